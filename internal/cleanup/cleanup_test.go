package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/aletheia_data/internal/registry"
	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/storage/sqlite"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary(".hello.txt.fetch-123"))
	assert.True(t, IsTemporary(".hello.txt.decomp.tmp-9"))
	assert.True(t, IsTemporary(".write-test-1"))
	assert.False(t, IsTemporary("hello.txt"))
	assert.False(t, IsTemporary("report.fetch-1"))
}

func TestDeleteStaleTemporaryFiles(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "sub", ".a.txt.fetch-1")
	fresh := filepath.Join(root, ".b.txt.fetch-2")
	data := filepath.Join(root, "a.txt")

	touch(t, stale, 48*time.Hour)
	touch(t, fresh, time.Minute)
	touch(t, data, 48*time.Hour)

	n, err := DeleteStaleTemporaryFiles(context.Background(), root, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, data)
}

func TestDeleteStaleTemporaryFilesMissingRoot(t *testing.T) {
	n, err := DeleteStaleTemporaryFiles(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteOrphans(t *testing.T) {
	root := t.TempDir()

	reg, err := registry.New(map[string]string{"a.txt": helloSHA256, "dir/b.gz": helloSHA256})
	require.NoError(t, err)

	touch(t, filepath.Join(root, "a.txt"), 0)
	touch(t, filepath.Join(root, "dir", "b.gz"), 0)
	touch(t, filepath.Join(root, "dir", "b.gz.decomp"), 0)
	touch(t, filepath.Join(root, ".a.txt.fetch-1"), 0)
	touch(t, filepath.Join(root, "old.txt"), 0)
	touch(t, filepath.Join(root, "dir", "a.txt"), 0)

	n, err := DeleteOrphans(context.Background(), root, reg)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "dir", "b.gz.decomp"))
	assert.FileExists(t, filepath.Join(root, ".a.txt.fetch-1"))
	assert.NoFileExists(t, filepath.Join(root, "old.txt"))
	assert.NoFileExists(t, filepath.Join(root, "dir", "a.txt"))
}

func TestPrunerPrune(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	db, err := sqlite.InitDB(ctx, sqlite.MemoryDB)
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewFetchRepository(db)
	require.NoError(t, repo.RecordFetch(ctx, storage.FetchRecord{
		Name: "a.txt", Action: "download", Status: storage.StatusSuccess, FetchedAt: time.Now().Add(-60 * 24 * time.Hour),
	}))
	require.NoError(t, repo.RecordFetch(ctx, storage.FetchRecord{
		Name: "a.txt", Action: "update", Status: storage.StatusSuccess, FetchedAt: time.Now(),
	}))

	reg, err := registry.New(map[string]string{"a.txt": helloSHA256})
	require.NoError(t, err)

	touch(t, filepath.Join(root, ".a.txt.fetch-1"), 48*time.Hour)
	touch(t, filepath.Join(root, "stray.bin"), 0)

	p := &Pruner{
		Root:           root,
		Registry:       reg,
		KeepTempFor:    24 * time.Hour,
		KeepHistoryFor: 30 * 24 * time.Hour,
		RemoveOrphans:  true,
		Ledger:         repo,
	}

	report, err := p.Prune(ctx)
	require.NoError(t, err)

	assert.Equal(t, Report{TempFiles: 1, Orphans: 1, History: 1}, report)

	records, err := repo.GetFetches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "update", records[0].Action)
}
