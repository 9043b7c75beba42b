// Package registry holds the expected digests of the files a cache serves.
package registry

import (
	"bufio"
	_ "crypto/sha256" // registers sha256 with go-digest
	_ "crypto/sha512" // registers sha384 and sha512 with go-digest
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Registry maps file names to expected content digests. It is immutable once built
// and safe for concurrent use.
type Registry struct {
	algorithm digest.Algorithm
	digests   map[string]digest.Digest
	urls      map[string]string
}

// Option configures a Registry.
type Option func(*Registry)

// WithAlgorithm sets the algorithm of bare hex values. sha256 is the default.
func WithAlgorithm(a digest.Algorithm) Option {
	return func(r *Registry) {
		if a != "" {
			r.algorithm = a
		}
	}
}

// New builds a Registry from name to hash. A hash is either lowercase hex of the
// registry algorithm or a full "algorithm:hex" digest.
func New(entries map[string]string, opts ...Option) (*Registry, error) {
	r := &Registry{
		algorithm: digest.SHA256,
		digests:   make(map[string]digest.Digest, len(entries)),
		urls:      make(map[string]string),
	}

	for _, opt := range opts {
		opt(r)
	}

	if !r.algorithm.Available() {
		return nil, fmt.Errorf("hash algorithm %q is not available", r.algorithm)
	}

	for name, hash := range entries {
		if err := r.add(name, hash); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) add(name, hash string) error {
	if name == "" {
		return fmt.Errorf("registry entry with empty name")
	}

	var d digest.Digest

	if strings.Contains(hash, ":") {
		parsed, err := digest.Parse(strings.ToLower(hash))
		if err != nil {
			return fmt.Errorf("invalid digest for %s: %w", name, err)
		}

		d = parsed
	} else {
		d = digest.NewDigestFromEncoded(r.algorithm, strings.ToLower(hash))
		if err := d.Validate(); err != nil {
			return fmt.Errorf("invalid %s hash for %s: %w", r.algorithm, name, err)
		}
	}

	r.digests[name] = d

	return nil
}

// Load reads a registry file: one "name hash [url]" entry per line. Blank lines and
// lines starting with # are ignored. The optional third column becomes a URL override.
func Load(rd io.Reader, opts ...Option) (*Registry, error) {
	hashes := make(map[string]string)
	urls := make(map[string]string)

	scanner := bufio.NewScanner(rd)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("registry line %d: expected \"name hash [url]\", got %d fields", lineNo, len(fields))
		}

		if _, dup := hashes[fields[0]]; dup {
			return nil, fmt.Errorf("registry line %d: duplicate entry %s", lineNo, fields[0])
		}

		hashes[fields[0]] = fields[1]

		if len(fields) == 3 {
			urls[fields[0]] = fields[2]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	r, err := New(hashes, opts...)
	if err != nil {
		return nil, err
	}

	r.urls = urls

	return r, nil
}

// LoadFile is Load on the file at path.
func LoadFile(path string, opts ...Option) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry file: %w", err)
	}
	defer f.Close()

	return Load(f, opts...)
}

// Algorithm returns the algorithm of bare hex values.
func (r *Registry) Algorithm() digest.Algorithm {
	return r.algorithm
}

// Digest returns the expected digest of name.
func (r *Registry) Digest(name string) (digest.Digest, bool) {
	d, ok := r.digests[name]

	return d, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.digests[name]

	return ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.digests))
	for name := range r.digests {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.digests)
}

// URLs returns a copy of the URL overrides read from a registry file.
func (r *Registry) URLs() map[string]string {
	out := make(map[string]string, len(r.urls))
	for k, v := range r.urls {
		out[k] = v
	}

	return out
}
