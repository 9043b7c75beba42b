package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/italolelis/aletheia_data/internal/registry"
	"github.com/italolelis/aletheia_data/internal/storage"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type fileServer struct {
	*httptest.Server
	requests atomic.Int64
}

func newFileServer(t *testing.T, files map[string]string) *fileServer {
	t.Helper()

	fs := &fileServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.requests.Add(1)

		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)

			return
		}

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)

			return
		}

		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)

	return fs
}

func newRegistry(t *testing.T, entries map[string]string) *registry.Registry {
	t.Helper()

	reg, err := registry.New(entries)
	require.NoError(t, err)

	return reg
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// leftovers returns the names in dir that are not in keep.
func leftovers(t *testing.T, dir string, keep ...string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[k] = true
	}

	var out []string

	for _, e := range entries {
		if !skip[e.Name()] {
			out = append(out, e.Name())
		}
	}

	return out
}

type memoryLedger struct {
	mu      sync.Mutex
	records []storage.FetchRecord
}

func (l *memoryLedger) RecordFetch(_ context.Context, rec storage.FetchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)

	return nil
}

func (l *memoryLedger) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (l *memoryLedger) all() []storage.FetchRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]storage.FetchRecord(nil), l.records...)
}

type memoryNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *memoryNotifier) Notify(_ context.Context, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, content)

	return nil
}
