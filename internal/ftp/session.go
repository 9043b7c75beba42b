package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every control exchange and every idle period on a data connection.
	DefaultTimeout = 30 * time.Second

	blockSize = 32 * 1024
)

// Session is a single FTP control connection. It is not safe for concurrent use;
// callers that share one must serialise access themselves.
type Session struct {
	conn    net.Conn
	text    *textproto.Conn
	host    string
	timeout time.Duration

	// dir is the directory last selected with CWD, empty when unknown.
	dir string
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Dial connects to addr (host:port) and reads the server greeting.
func Dial(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid ftp address %q: %w", addr, err)
	}

	s := &Session{host: host, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}

	dialer := net.Dialer{Timeout: s.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s.conn = conn
	s.text = textproto.NewConn(conn)

	if _, _, err := s.reply(ctx, 2); err != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to read greeting from %s: %w", addr, err)
	}

	return s, nil
}

// Login authenticates and switches the session to binary transfers.
func (s *Session) Login(ctx context.Context, user, password string) error {
	code, msg, err := s.cmd(ctx, 0, "USER %s", user)
	if err != nil {
		return err
	}

	switch code {
	case 230:
	case 331, 332:
		if _, _, err := s.cmd(ctx, 2, "PASS %s", password); err != nil {
			return err
		}
	default:
		return &ReplyError{Code: code, Msg: msg}
	}

	s.dir = ""

	_, _, err = s.cmd(ctx, 200, "TYPE I")

	return err
}

// ChangeDir selects dir on the server. No command is sent when dir is already selected.
func (s *Session) ChangeDir(ctx context.Context, dir string) error {
	if dir == "" || dir == s.dir {
		return nil
	}

	if _, _, err := s.cmd(ctx, 2, "CWD %s", dir); err != nil {
		s.dir = ""

		return err
	}

	s.dir = dir

	return nil
}

// CurrentDir returns the directory last selected with ChangeDir.
func (s *Session) CurrentDir() string {
	return s.dir
}

// Size returns the size of a remote file as reported by SIZE.
func (s *Session) Size(ctx context.Context, path string) (int64, error) {
	_, msg, err := s.cmd(ctx, 213, "SIZE %s", path)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseInt(strings.TrimSpace(msg), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed SIZE reply %q: %w", msg, err)
	}

	return size, nil
}

// Retrieve downloads path in binary mode and hands every received block to fn.
// The block is only valid until fn returns.
func (s *Session) Retrieve(ctx context.Context, path string, fn func(block []byte) error) error {
	return s.transfer(ctx, "RETR "+path, func(r io.Reader) error {
		buf := make([]byte, blockSize)

		for {
			n, err := r.Read(buf)
			if n > 0 {
				if werr := fn(buf[:n]); werr != nil {
					return werr
				}
			}

			if errors.Is(err, io.EOF) {
				return nil
			}

			if err != nil {
				return err
			}
		}
	})
}

// MLSD returns the raw machine-readable listing lines of dir.
func (s *Session) MLSD(ctx context.Context, dir string) ([]string, error) {
	return s.lines(ctx, withArg("MLSD", dir))
}

// List returns the raw LIST lines of dir.
func (s *Session) List(ctx context.Context, dir string) ([]string, error) {
	return s.lines(ctx, withArg("LIST", dir))
}

// Close says goodbye to the server and closes the control connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, _, _ = s.cmd(ctx, 0, "QUIT")

	err := s.conn.Close()
	s.conn = nil

	return err
}

func withArg(verb, arg string) string {
	if arg == "" {
		return verb
	}

	return verb + " " + arg
}

func (s *Session) lines(ctx context.Context, command string) ([]string, error) {
	var lines []string

	err := s.transfer(ctx, command, func(r io.Reader) error {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
				lines = append(lines, line)
			}
		}

		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}

	return lines, nil
}

// transfer runs command over a fresh passive data connection and waits for the
// completion reply, keeping the control channel in step even when fn fails.
func (s *Session) transfer(ctx context.Context, command string, fn func(io.Reader) error) error {
	data, err := s.openData(ctx)
	if err != nil {
		return err
	}
	defer data.Close()

	if _, _, err := s.cmd(ctx, 1, "%s", command); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = data.SetDeadline(time.Unix(1, 0))
	})

	readErr := fn(&idleReader{conn: data, timeout: s.timeout})

	stop()
	data.Close()

	_, _, replyErr := s.reply(ctx, 2)

	if readErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("data transfer failed: %w", readErr)
	}

	return replyErr
}

func (s *Session) openData(ctx context.Context) (net.Conn, error) {
	_, msg, err := s.cmd(ctx, 227, "PASV")
	if err != nil {
		return nil, err
	}

	port, err := parsePASV(msg)
	if err != nil {
		return nil, err
	}

	// The advertised address is ignored in favour of the control host; servers behind
	// NAT routinely advertise private addresses.
	dialer := net.Dialer{Timeout: s.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to open data connection: %w", err)
	}

	return conn, nil
}

func parsePASV(msg string) (int, error) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")

	if start < 0 || end < start {
		return 0, fmt.Errorf("malformed PASV reply %q", msg)
	}

	fields := strings.Split(msg[start+1:end], ",")
	if len(fields) != 6 {
		return 0, fmt.Errorf("malformed PASV reply %q", msg)
	}

	hi, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return 0, fmt.Errorf("malformed PASV port in %q: %w", msg, err)
	}

	lo, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return 0, fmt.Errorf("malformed PASV port in %q: %w", msg, err)
	}

	return hi<<8 | lo, nil
}

// cmd sends one command and reads its reply. expect follows textproto.Reader.ReadResponse.
func (s *Session) cmd(ctx context.Context, expect int, format string, args ...any) (int, string, error) {
	if s.conn == nil {
		return 0, "", errors.New("ftp: session closed")
	}

	stop := s.arm(ctx)
	err := s.text.PrintfLine(format, args...)
	stop()

	if err != nil {
		return 0, "", s.ctxErr(ctx, fmt.Errorf("failed to send command: %w", err))
	}

	return s.reply(ctx, expect)
}

func (s *Session) reply(ctx context.Context, expect int) (int, string, error) {
	stop := s.arm(ctx)
	defer stop()

	code, msg, err := s.text.ReadResponse(expect)

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code, protoErr.Msg, &ReplyError{Code: protoErr.Code, Msg: protoErr.Msg}
	}

	if err != nil {
		return code, msg, s.ctxErr(ctx, fmt.Errorf("failed to read reply: %w", err))
	}

	return code, msg, nil
}

// arm bounds the next control exchange by the session timeout and by ctx.
func (s *Session) arm(ctx context.Context) func() bool {
	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))

	conn := s.conn

	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

func (s *Session) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}

type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))

	return r.conn.Read(p)
}
