package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/italolelis/aletheia_data/internal/ftp"
	"github.com/italolelis/aletheia_data/internal/logctx"
	"github.com/italolelis/aletheia_data/internal/progress"
)

const (
	defaultFTPPort    = "21"
	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous@"
)

// FTPTransport fetches ftp sources over a single control connection that lives as
// long as the transport. The connection is dialed on first use, replaced when a URL
// names another server or user, and released by Close. Calls are serialised.
type FTPTransport struct {
	timeout  time.Duration
	user     string
	password string

	mu      sync.Mutex
	session *ftp.Session
	dir     *ftp.Directory
	key     string
}

// FTPOption configures an FTPTransport.
type FTPOption func(*FTPTransport)

// WithFTPTimeout bounds the control exchanges and idle data periods.
func WithFTPTimeout(d time.Duration) FTPOption {
	return func(t *FTPTransport) { t.timeout = d }
}

// WithFTPCredentials sets the login used when a URL carries none. Without it the
// transport logs in anonymously.
func WithFTPCredentials(user, password string) FTPOption {
	return func(t *FTPTransport) {
		t.user = user
		t.password = password
	}
}

// NewFTPTransport returns an FTPTransport that has not connected yet.
func NewFTPTransport(opts ...FTPOption) *FTPTransport {
	t := &FTPTransport{timeout: ftp.DefaultTimeout}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Transfer changes to the directory of sourceURL, when it is not already selected,
// and retrieves the file in binary mode. Each block is written to sink and added to p.
func (t *FTPTransport) Transfer(ctx context.Context, sourceURL string, sink io.Writer, p progress.Sink) error {
	if p == nil {
		p = progress.Discard
	}

	u, err := url.Parse(sourceURL)
	if err != nil {
		return newTransportError("transfer", sourceURL, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, _, err := t.connect(ctx, u)
	if err != nil {
		return newTransportError("connect", sourceURL, err)
	}

	dir, file := path.Split(u.Path)
	if file == "" {
		return newTransportError("transfer", sourceURL, errors.New("url does not name a file"))
	}

	if err := s.ChangeDir(ctx, cleanDir(dir)); err != nil {
		return newTransportError("transfer", sourceURL, t.check(err))
	}

	if size, err := s.Size(ctx, file); err == nil {
		p.SetTotal(size)
	}

	var writeErr error

	err = s.Retrieve(ctx, file, func(block []byte) error {
		if _, err := sink.Write(block); err != nil {
			writeErr = fmt.Errorf("failed to write block: %w", err)

			return writeErr
		}

		p.Add(int64(len(block)))

		return nil
	})

	if writeErr != nil {
		return writeErr
	}

	if err != nil {
		return newTransportError("transfer", sourceURL, t.check(err))
	}

	p.Complete()

	return nil
}

// Probe asks for the size of the file. Servers without SIZE are answered from a
// fresh listing of the parent directory instead.
func (t *FTPTransport) Probe(ctx context.Context, sourceURL string) (bool, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return false, newTransportError("probe", sourceURL, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, dir, err := t.connect(ctx, u)
	if err != nil {
		return false, newTransportError("connect", sourceURL, err)
	}

	dir.Invalidate()

	_, err = s.Size(ctx, u.Path)
	if err == nil {
		return true, nil
	}

	if ftp.IsNotFound(err) {
		return false, nil
	}

	var re *ftp.ReplyError
	if !errors.As(err, &re) || (re.Code != ftp.CodeSyntaxError && re.Code != ftp.CodeNotImplemented) {
		return false, newTransportError("probe", sourceURL, t.check(err))
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "server lacks SIZE, probing with a listing", "reply", re.Code)

	if _, err := dir.Stat(ctx, u.Path); err != nil {
		if ftp.IsNotFound(err) {
			return false, nil
		}

		return false, newTransportError("probe", sourceURL, t.check(err))
	}

	return true, nil
}

// List returns the entries of the directory named by dirURL.
func (t *FTPTransport) List(ctx context.Context, dirURL string) ([]ftp.Entry, error) {
	u, err := url.Parse(dirURL)
	if err != nil {
		return nil, newTransportError("list", dirURL, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, dir, err := t.connect(ctx, u)
	if err != nil {
		return nil, newTransportError("connect", dirURL, err)
	}

	dir.Invalidate()

	entries, err := dir.List(ctx, u.Path)
	if err != nil {
		return nil, newTransportError("list", dirURL, t.check(err))
	}

	return entries, nil
}

// Stat returns the listing entry of the path named by rawURL.
func (t *FTPTransport) Stat(ctx context.Context, rawURL string) (ftp.Entry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftp.Entry{}, newTransportError("stat", rawURL, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, dir, err := t.connect(ctx, u)
	if err != nil {
		return ftp.Entry{}, newTransportError("connect", rawURL, err)
	}

	dir.Invalidate()

	entry, err := dir.Stat(ctx, u.Path)
	if err != nil {
		return ftp.Entry{}, newTransportError("stat", rawURL, t.check(err))
	}

	return entry, nil
}

// Close logs out and drops the control connection. The transport dials again on
// next use.
func (t *FTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.reset()
}

// connect returns the live session for the server and user of u, dialing a new one
// when there is none or when it belongs to another server or user.
func (t *FTPTransport) connect(ctx context.Context, u *url.URL) (*ftp.Session, *ftp.Directory, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultFTPPort)
	}

	user, password := t.credentials(u)
	key := user + "@" + host

	if t.session != nil && t.key == key {
		return t.session, t.dir, nil
	}

	if err := t.reset(); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to close previous ftp session", "err", err)
	}

	s, err := ftp.Dial(ctx, host, ftp.WithTimeout(t.timeout))
	if err != nil {
		return nil, nil, err
	}

	if err := s.Login(ctx, user, password); err != nil {
		s.Close()

		return nil, nil, err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "ftp session opened", "host", host, "user", user)

	t.session = s
	t.dir = ftp.NewDirectory(s)
	t.key = key

	return s, t.dir, nil
}

func (t *FTPTransport) credentials(u *url.URL) (string, string) {
	if u.User != nil && u.User.Username() != "" {
		password, _ := u.User.Password()

		return u.User.Username(), password
	}

	if t.user != "" {
		return t.user, t.password
	}

	return anonymousUser, anonymousPassword
}

// check drops the session when err did not come from a server reply, since the
// control connection can no longer be trusted to be in step.
func (t *FTPTransport) check(err error) error {
	var re *ftp.ReplyError
	var nf *ftp.NotFoundError

	if !errors.As(err, &re) && !errors.As(err, &nf) {
		_ = t.reset()
	}

	return err
}

func (t *FTPTransport) reset() error {
	if t.session == nil {
		return nil
	}

	err := t.session.Close()
	t.session = nil
	t.dir = nil
	t.key = ""

	return err
}

func cleanDir(dir string) string {
	if dir == "" || dir == "/" {
		return dir
	}

	return path.Clean(dir)
}
