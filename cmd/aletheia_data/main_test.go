package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func writeSettings(t *testing.T, dir, baseURL string) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	settings := "cache_dir: " + filepath.Join(dir, "data") + "\n" +
		"db_path: " + filepath.Join(dir, "fetches.db") + "\n" +
		"base_url: " + baseURL + "\n" +
		"logging:\n  level: ERROR\n" +
		"registry:\n  hello.txt: 2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824\n"

	require.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	return path
}

func TestConfigShowAndSave(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, "https://example.com/data/")

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://example.com/data/")

	saved := filepath.Join(dir, "saved.yaml")
	_, err = execute(t, "--config", path, "config", "save", saved)
	require.NoError(t, err)
	assert.FileExists(t, saved)
}

func TestFetchStatusAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeSettings(t, dir, srv.URL)

	_, err := execute(t, "--config", path, "fetch")
	require.Error(t, err)

	out, err := execute(t, "--config", path, "fetch", "hello.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "hello.txt")

	got, err := os.ReadFile(filepath.Join(dir, "data", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	out, err = execute(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	out, err = execute(t, "--config", path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "download")

	out, err = execute(t, "--config", path, "available", "hello.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "available")
}
