package cache

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// UnknownFileError is returned for a name the registry does not list. It is raised
// before any filesystem or network access.
type UnknownFileError struct {
	Name   string
	Reason string
}

func (e *UnknownFileError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unknown file %q: %s", e.Name, e.Reason)
	}

	return fmt.Sprintf("unknown file %q: not in registry", e.Name)
}

// HashMismatchError means the downloaded bytes did not match the registry. The
// download has been discarded and the destination left as it was.
type HashMismatchError struct {
	Name     string
	URL      string
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s downloaded from %s: expected %s, got %s",
		e.Name, e.URL, e.Expected, e.Actual)
}
