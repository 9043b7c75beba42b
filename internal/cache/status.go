package cache

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

// State describes a local copy relative to the registry.
type State string

const (
	StateMissing State = "missing"
	StateStale   State = "stale"
	StateValid   State = "valid"
)

// FileStatus is the local state of a registry file.
type FileStatus struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	URL     string    `json:"url"`
	Digest  string    `json:"digest"`
	State   State     `json:"state"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
}

// Status hashes the local copy of name, if any, and compares it with the registry.
func (c *Cache) Status(name string) (FileStatus, error) {
	expected, ok := c.registry.Digest(name)
	if !ok {
		return FileStatus{}, &UnknownFileError{Name: name}
	}

	dest, err := c.destination(name)
	if err != nil {
		return FileStatus{}, err
	}

	st := FileStatus{
		Name:   name,
		Path:   dest,
		URL:    c.URL(name),
		Digest: expected.String(),
		State:  StateMissing,
	}

	info, err := os.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	} else if err != nil {
		return st, err
	}

	st.Size = info.Size()
	st.ModTime = info.ModTime()

	action, err := c.decide(dest, expected)
	if err != nil {
		return st, err
	}

	st.State = StateValid
	if action != ActionFetch {
		st.State = StateStale
	}

	return st, nil
}

// Statuses returns the status of every registry file in name order.
func (c *Cache) Statuses() ([]FileStatus, error) {
	names := c.registry.Names()
	out := make([]FileStatus, 0, len(names))

	for _, name := range names {
		st, err := c.Status(name)
		if err != nil {
			return nil, err
		}

		out = append(out, st)
	}

	return out, nil
}
