// Package ftptest provides an in-process FTP server for tests.
package ftptest

import (
	"fmt"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Server serves a fixed in-memory file tree over FTP on a loopback port. Directories
// are implied by the file paths.
type Server struct {
	// Addr is the host:port of the control listener.
	Addr string

	ln net.Listener

	filesMu sync.RWMutex
	files   map[string][]byte

	noMLSD   bool
	noSize   bool
	user     string
	password string

	mu       sync.Mutex
	commands []string
	accepted int
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithoutMLSD makes the server answer MLSD with 500, like servers predating RFC 3659.
func WithoutMLSD() Option {
	return func(s *Server) { s.noMLSD = true }
}

// WithoutSize makes the server answer SIZE with 502.
func WithoutSize() Option {
	return func(s *Server) { s.noSize = true }
}

// WithCredentials requires the given user and password instead of accepting any login.
func WithCredentials(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// NewServer starts a server for files, keyed by absolute path. It panics when no
// loopback port is available. Callers must Close it.
func NewServer(files map[string][]byte, opts ...Option) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("ftptest: failed to listen on a port: %v", err))
	}

	s := &Server{
		Addr:  ln.Addr().String(),
		ln:    ln,
		files: make(map[string][]byte, len(files)),
		conns: make(map[net.Conn]struct{}),
	}

	for name, body := range files {
		s.files[path.Clean("/"+name)] = body
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)

	go s.accept()

	return s
}

// URL returns an ftp:// URL for p on this server.
func (s *Server) URL(p string) string {
	return "ftp://" + s.Addr + path.Clean("/"+p)
}

// Commands returns every command received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

// Count returns how many commands with the given verb were received.
func (s *Server) Count(verb string) int {
	n := 0

	for _, c := range s.Commands() {
		v, _, _ := strings.Cut(c, " ")
		if strings.EqualFold(v, verb) {
			n++
		}
	}

	return n
}

// Connections returns the number of control connections accepted so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.accepted
}

// Put adds or replaces the file at p.
func (s *Server) Put(p string, body []byte) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	s.files[path.Clean("/"+p)] = body
}

// Remove deletes the file at p.
func (s *Server) Remove(p string) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	delete(s.files, path.Clean("/"+p))
}

func (s *Server) file(p string) ([]byte, bool) {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()

	body, ok := s.files[p]

	return body, ok
}

// Close stops the listener, drops open connections and waits for their handlers.
func (s *Server) Close() {
	s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.accepted++
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

type session struct {
	text   *textproto.Conn
	cwd    string
	user   string
	authed bool
	pasv   net.Listener
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		conn.Close()

		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sess := &session{text: textproto.NewConn(conn), cwd: "/"}
	defer sess.closePassive()

	sess.reply(220, "ftptest ready")

	for {
		line, err := sess.text.ReadLine()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		if verb == "QUIT" {
			sess.reply(221, "bye")

			return
		}

		s.handle(sess, verb, arg)
	}
}

func (s *Server) handle(sess *session, verb, arg string) {
	switch verb {
	case "USER":
		sess.user = arg
		sess.reply(331, "password required")

		return
	case "PASS":
		if s.user != "" && (sess.user != s.user || arg != s.password) {
			sess.reply(530, "login incorrect")

			return
		}

		sess.authed = true
		sess.reply(230, "logged in")

		return
	}

	if !sess.authed {
		sess.reply(530, "not logged in")

		return
	}

	target := sess.resolve(arg)

	switch verb {
	case "TYPE", "NOOP":
		sess.reply(200, "ok")
	case "SYST":
		sess.reply(215, "UNIX Type: L8")
	case "PWD":
		sess.reply(257, fmt.Sprintf("%q is the current directory", sess.cwd))
	case "CWD":
		if !s.isDir(target) {
			sess.reply(550, "no such directory")

			return
		}

		sess.cwd = target
		sess.reply(250, "directory changed")
	case "SIZE":
		if s.noSize {
			sess.reply(502, "SIZE not implemented")

			return
		}

		body, ok := s.file(target)
		if !ok {
			sess.reply(550, "no such file")

			return
		}

		sess.reply(213, fmt.Sprint(len(body)))
	case "PASV":
		s.passive(sess)
	case "RETR":
		body, ok := s.file(target)
		if !ok {
			sess.closePassive()
			sess.reply(550, "no such file")

			return
		}

		s.sendData(sess, body)
	case "MLSD":
		if s.noMLSD {
			sess.closePassive()
			sess.reply(500, "MLSD not understood")

			return
		}

		s.sendListing(sess, target, s.mlsdLines)
	case "LIST":
		s.sendListing(sess, target, s.listLines)
	default:
		sess.reply(502, "command not implemented")
	}
}

func (s *Server) passive(sess *session) {
	sess.closePassive()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sess.reply(425, "cannot open passive connection")

		return
	}

	sess.pasv = ln
	port := ln.Addr().(*net.TCPAddr).Port

	sess.reply(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d)", port>>8, port&0xff))
}

func (s *Server) sendListing(sess *session, dir string, lines func(string) []string) {
	if !s.isDir(dir) {
		sess.closePassive()
		sess.reply(550, "no such directory")

		return
	}

	s.sendData(sess, []byte(strings.Join(lines(dir), "\r\n")+"\r\n"))
}

func (s *Server) sendData(sess *session, body []byte) {
	if sess.pasv == nil {
		sess.reply(425, "use PASV first")

		return
	}

	sess.reply(150, "opening data connection")

	ln := sess.pasv
	sess.pasv = nil

	defer ln.Close()

	_ = ln.(*net.TCPListener).SetDeadline(time.Now().Add(10 * time.Second))

	data, err := ln.Accept()
	if err != nil {
		sess.reply(425, "data connection failed")

		return
	}

	_, err = data.Write(body)
	data.Close()

	if err != nil {
		sess.reply(426, "transfer aborted")

		return
	}

	sess.reply(226, "transfer complete")
}

func (s *Server) isDir(p string) bool {
	if p == "/" {
		return true
	}

	s.filesMu.RLock()
	defer s.filesMu.RUnlock()

	prefix := p + "/"
	for name := range s.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

type child struct {
	name string
	dir  bool
	size int
}

func (s *Server) children(dir string) []child {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := make(map[string]child)

	s.filesMu.RLock()
	defer s.filesMu.RUnlock()

	for name, body := range s.files {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}

		if first, _, nested := strings.Cut(rest, "/"); nested {
			seen[first] = child{name: first, dir: true}
		} else {
			seen[rest] = child{name: rest, size: len(body)}
		}
	}

	out := make([]child, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	return out
}

func (s *Server) mlsdLines(dir string) []string {
	lines := []string{
		"type=cdir;modify=20240101000000; .",
		"type=pdir;modify=20240101000000; ..",
	}

	for _, c := range s.children(dir) {
		if c.dir {
			lines = append(lines, "type=dir;modify=20240101000000;unix.mode=0755; "+c.name)
		} else {
			lines = append(lines, fmt.Sprintf("type=file;size=%d;modify=20240101000000;unix.mode=0644; %s", c.size, c.name))
		}
	}

	return lines
}

func (s *Server) listLines(dir string) []string {
	kids := s.children(dir)
	lines := []string{fmt.Sprintf("total %d", len(kids))}

	for _, c := range kids {
		if c.dir {
			lines = append(lines, "drwxr-xr-x 2 user group 4096 Jan 1 00:00 "+c.name)
		} else {
			lines = append(lines, fmt.Sprintf("-rw-r--r-- 1 user group %d Jan 1 00:00 %s", c.size, c.name))
		}
	}

	return lines
}

func (sess *session) resolve(arg string) string {
	switch {
	case arg == "":
		return sess.cwd
	case strings.HasPrefix(arg, "/"):
		return path.Clean(arg)
	default:
		return path.Join(sess.cwd, arg)
	}
}

func (sess *session) reply(code int, msg string) {
	_ = sess.text.PrintfLine("%d %s", code, msg)
}

func (sess *session) closePassive() {
	if sess.pasv != nil {
		sess.pasv.Close()
		sess.pasv = nil
	}
}
