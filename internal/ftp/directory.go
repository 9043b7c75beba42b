package ftp

import (
	"context"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

// EntryType classifies a listing entry.
type EntryType int

const (
	EntryFile EntryType = iota
	EntryDir
	EntryOther
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDir:
		return "directory"
	default:
		return "other"
	}
}

// Entry is one line of a remote directory listing.
type Entry struct {
	Name string
	Path string
	Type EntryType

	// Size is -1 when the server did not report it. Directories always report 0.
	Size int64

	// Modify is the modification time as the server wrote it; ModTime is its parsed
	// form and stays zero when the format is not recognised.
	Modify  string
	ModTime time.Time

	Owner string
	Group string
	Mode  string
}

// Lister issues raw listing commands. *Session implements it.
type Lister interface {
	MLSD(ctx context.Context, dir string) ([]string, error)
	List(ctx context.Context, dir string) ([]string, error)
}

// Directory lists and stats remote paths. MLSD is preferred; servers that reject it
// get their LIST output parsed as `ls -l` lines instead, which is best-effort.
//
// The result of the most recent List is kept and served again for the same path until
// a List on another path replaces it. A Directory belongs to one session and is not
// safe for concurrent use.
type Directory struct {
	conn Lister

	// legacy is set once the server has said it does not know MLSD at all.
	legacy bool

	lastPath    string
	lastEntries []Entry
	cached      bool
}

// NewDirectory returns a Directory issuing its commands over conn.
func NewDirectory(conn Lister) *Directory {
	return &Directory{conn: conn}
}

// List returns the entries of dir, without the "." and ".." markers.
func (d *Directory) List(ctx context.Context, dir string) ([]Entry, error) {
	if d.cached && d.lastPath == dir {
		return slices.Clone(d.lastEntries), nil
	}

	d.cached = false

	entries, err := d.list(ctx, dir)
	if err != nil {
		return nil, err
	}

	d.lastPath = dir
	d.lastEntries = entries
	d.cached = true

	return slices.Clone(entries), nil
}

// Stat lists the parent of p and returns the entry named like p.
func (d *Directory) Stat(ctx context.Context, p string) (Entry, error) {
	clean := path.Clean(p)
	if clean == "/" || clean == "." {
		return Entry{Name: clean, Path: clean, Type: EntryDir}, nil
	}

	parent, name := path.Split(clean)
	if parent != "/" {
		parent = strings.TrimSuffix(parent, "/")
	}

	entries, err := d.List(ctx, parent)
	if err != nil {
		return Entry{}, err
	}

	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}

	return Entry{}, &NotFoundError{Path: p}
}

// Invalidate drops the cached listing.
func (d *Directory) Invalidate() {
	d.cached = false
	d.lastEntries = nil
}

func (d *Directory) list(ctx context.Context, dir string) ([]Entry, error) {
	if !d.legacy {
		lines, err := d.conn.MLSD(ctx, dir)
		if err == nil {
			return parseMLSD(dir, lines), nil
		}

		if !isRejected(err) {
			return nil, err
		}

		if isUnsupported(err) {
			d.legacy = true
		}
	}

	lines, err := d.conn.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	return parseList(dir, lines), nil
}

func parseMLSD(dir string, lines []string) []Entry {
	entries := make([]Entry, 0, len(lines))

	for _, line := range lines {
		if e, ok := parseMLSDLine(dir, line); ok {
			entries = append(entries, e)
		}
	}

	return entries
}

// parseMLSDLine parses "fact=value;fact=value; name" as defined by RFC 3659.
func parseMLSDLine(dir, line string) (Entry, bool) {
	facts, name, ok := strings.Cut(line, " ")
	if !ok || name == "" {
		return Entry{}, false
	}

	e := Entry{Name: name, Path: joinPath(dir, name), Size: -1, Type: EntryOther}

	for _, fact := range strings.Split(facts, ";") {
		key, value, ok := strings.Cut(fact, "=")
		if !ok {
			continue
		}

		switch strings.ToLower(key) {
		case "type":
			switch strings.ToLower(value) {
			case "cdir", "pdir":
				return Entry{}, false
			case "file":
				e.Type = EntryFile
			case "dir":
				e.Type = EntryDir
			}
		case "size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				e.Size = n
			}
		case "modify":
			e.Modify = value
			e.ModTime = parseMLSDTime(value)
		case "unix.mode":
			e.Mode = value
		case "unix.owner":
			e.Owner = value
		case "unix.group":
			e.Group = value
		}
	}

	if e.Type == EntryDir {
		e.Size = 0
	}

	return e, true
}

func parseMLSDTime(value string) time.Time {
	value, _, _ = strings.Cut(value, ".")

	t, err := time.Parse("20060102150405", value)
	if err != nil {
		return time.Time{}
	}

	return t
}

func parseList(dir string, lines []string) []Entry {
	entries := make([]Entry, 0, len(lines))

	for _, line := range lines {
		if e, ok := parseListLine(dir, line); ok {
			entries = append(entries, e)
		}
	}

	return entries
}

// parseListLine reads one `ls -l` style line:
//
//	drwxr-xr-x 2 user group 4096 Jan 1 00:00 subdir
//
// Field 0 holds the mode, 2 and 3 the owner and group, 4 the size, 5 to 7 the
// modification time and the rest the name. Lines of any other shape are skipped.
func parseListLine(dir, line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 || len(fields[0]) < 10 {
		return Entry{}, false
	}

	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Entry{}, false
	}

	name := strings.Join(fields[8:], " ")
	if name == "." || name == ".." {
		return Entry{}, false
	}

	e := Entry{
		Name:   name,
		Size:   size,
		Mode:   fields[0],
		Owner:  fields[2],
		Group:  fields[3],
		Modify: strings.Join(fields[5:8], " "),
	}

	switch fields[0][0] {
	case 'd':
		e.Type = EntryDir
		e.Size = 0
	case '-':
		e.Type = EntryFile
	default:
		e.Type = EntryOther
		if target := strings.Index(name, " -> "); e.Mode[0] == 'l' && target > 0 {
			e.Name = name[:target]
		}
	}

	e.Path = joinPath(dir, e.Name)
	e.ModTime = parseListTime(e.Modify, time.Now())

	return e, true
}

// parseListTime understands the two `ls -l` forms: "Jan 1 00:00" for recent files,
// which carries no year, and "Jan 1 2020" for older ones.
func parseListTime(value string, now time.Time) time.Time {
	if t, err := time.Parse("Jan 2 2006", value); err == nil {
		return t
	}

	t, err := time.Parse("Jan 2 15:04", value)
	if err != nil {
		return time.Time{}
	}

	t = t.AddDate(now.Year(), 0, 0)
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}

	return t
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}

	return path.Join(dir, name)
}
