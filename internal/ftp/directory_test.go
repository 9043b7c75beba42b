package ftp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/aletheia_data/internal/ftp/ftptest"
)

type fakeLister struct {
	mlsd     map[string][]string
	list     map[string][]string
	mlsdErr  error
	mlsdHits int
	listHits int
}

func (f *fakeLister) MLSD(_ context.Context, dir string) ([]string, error) {
	f.mlsdHits++
	if f.mlsdErr != nil {
		return nil, f.mlsdErr
	}

	return f.mlsd[dir], nil
}

func (f *fakeLister) List(_ context.Context, dir string) ([]string, error) {
	f.listHits++

	lines, ok := f.list[dir]
	if !ok {
		return nil, &ReplyError{Code: CodeFileUnavailable, Msg: "no such directory"}
	}

	return lines, nil
}

func TestParseListLineDirectory(t *testing.T) {
	e, ok := parseListLine("/pub", "drwxr-xr-x 2 user group 4096 Jan 1 00:00 subdir")
	require.True(t, ok)

	assert.Equal(t, "subdir", e.Name)
	assert.Equal(t, "/pub/subdir", e.Path)
	assert.Equal(t, EntryDir, e.Type)
	assert.EqualValues(t, 0, e.Size)
	assert.Equal(t, "user", e.Owner)
	assert.Equal(t, "group", e.Group)
	assert.Equal(t, "drwxr-xr-x", e.Mode)
	assert.Equal(t, "Jan 1 00:00", e.Modify)
}

func TestParseListLineFile(t *testing.T) {
	e, ok := parseListLine("/pub", "-rw-r--r-- 1 user group 123 Jan 1 00:00 file.txt")
	require.True(t, ok)

	assert.Equal(t, "file.txt", e.Name)
	assert.Equal(t, EntryFile, e.Type)
	assert.EqualValues(t, 123, e.Size)
	assert.Equal(t, time.January, e.ModTime.Month())
}

func TestParseListLineVariants(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		ok       bool
		wantName string
		wantType EntryType
	}{
		{name: "total header", line: "total 12", ok: false},
		{name: "non numeric size", line: "-rw-r--r-- 1 user group big Jan 1 00:00 f", ok: false},
		{name: "symlink", line: "lrwxrwxrwx 1 user group 7 Jan 1 2020 latest -> v1.2.0", ok: true, wantName: "latest", wantType: EntryOther},
		{name: "name with spaces", line: "-rw-r--r-- 1 user group 5 Mar 3 2021 my file.txt", ok: true, wantName: "my file.txt", wantType: EntryFile},
		{name: "dot entry", line: "drwxr-xr-x 2 user group 4096 Jan 1 00:00 .", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := parseListLine("", tt.line)
			require.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.wantName, e.Name)
				assert.Equal(t, tt.wantType, e.Type)
			}
		})
	}
}

func TestParseListTime(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	got := parseListTime("Jan 1 00:00", now)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), got)

	got = parseListTime("Dec 31 23:00", now)
	assert.Equal(t, 2025, got.Year())

	got = parseListTime("Jan 1 2020", now)
	assert.Equal(t, 2020, got.Year())

	assert.True(t, parseListTime("yesterday", now).IsZero())
}

func TestParseMLSDLine(t *testing.T) {
	e, ok := parseMLSDLine("/pub", "type=file;size=42;modify=20240102030405.123;unix.mode=0644;unix.owner=ftp; data.nc")
	require.True(t, ok)

	assert.Equal(t, "data.nc", e.Name)
	assert.Equal(t, "/pub/data.nc", e.Path)
	assert.Equal(t, EntryFile, e.Type)
	assert.EqualValues(t, 42, e.Size)
	assert.Equal(t, "0644", e.Mode)
	assert.Equal(t, "ftp", e.Owner)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), e.ModTime)

	e, ok = parseMLSDLine("/pub", "type=dir;size=4096; sub")
	require.True(t, ok)
	assert.Equal(t, EntryDir, e.Type)
	assert.EqualValues(t, 0, e.Size)

	_, ok = parseMLSDLine("/pub", "type=cdir; .")
	assert.False(t, ok)

	_, ok = parseMLSDLine("/pub", "type=pdir; ..")
	assert.False(t, ok)

	e, ok = parseMLSDLine("/pub", "type=OS.unix=symlink; link")
	require.True(t, ok)
	assert.Equal(t, EntryOther, e.Type)
	assert.EqualValues(t, -1, e.Size)
}

func TestDirectoryFallsBackToList(t *testing.T) {
	lister := &fakeLister{
		mlsdErr: &ReplyError{Code: CodeSyntaxError, Msg: "MLSD not understood"},
		list: map[string][]string{
			"/pub": {
				"total 2",
				"drwxr-xr-x 2 user group 4096 Jan 1 00:00 subdir",
				"-rw-r--r-- 1 user group 123 Jan 1 00:00 file.txt",
			},
			"/other": {},
		},
	}

	d := NewDirectory(lister)

	entries, err := d.List(context.Background(), "/pub")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryDir, entries[0].Type)
	assert.EqualValues(t, 123, entries[1].Size)

	// A server without MLSD is not asked again.
	_, err = d.List(context.Background(), "/other")
	require.NoError(t, err)
	assert.Equal(t, 1, lister.mlsdHits)
	assert.Equal(t, 2, lister.listHits)
}

func TestDirectoryPropagatesTransportErrors(t *testing.T) {
	lister := &fakeLister{mlsdErr: context.DeadlineExceeded}

	_, err := NewDirectory(lister).List(context.Background(), "/pub")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, lister.listHits)
}

func TestDirectoryCachesLastListing(t *testing.T) {
	lister := &fakeLister{mlsd: map[string][]string{
		"/a": {"type=file;size=1; x"},
		"/b": {"type=file;size=2; y"},
	}}

	d := NewDirectory(lister)
	ctx := context.Background()

	_, err := d.List(ctx, "/a")
	require.NoError(t, err)
	_, err = d.List(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, 1, lister.mlsdHits)

	_, err = d.List(ctx, "/b")
	require.NoError(t, err)
	_, err = d.List(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, 3, lister.mlsdHits)

	d.Invalidate()
	_, err = d.List(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, 4, lister.mlsdHits)
}

func TestDirectoryListReturnsCopies(t *testing.T) {
	lister := &fakeLister{mlsd: map[string][]string{"/a": {"type=file;size=1; x"}}}
	d := NewDirectory(lister)

	entries, err := d.List(context.Background(), "/a")
	require.NoError(t, err)

	entries[0].Name = "mutated"

	again, err := d.List(context.Background(), "/a")
	require.NoError(t, err)
	assert.Equal(t, "x", again[0].Name)
}

func TestDirectoryStat(t *testing.T) {
	lister := &fakeLister{mlsd: map[string][]string{
		"/pub": {"type=file;size=5; a.txt", "type=dir; sub"},
	}}

	d := NewDirectory(lister)
	ctx := context.Background()

	e, err := d.Stat(ctx, "/pub/a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, e.Size)

	e, err = d.Stat(ctx, "/pub/sub/")
	require.NoError(t, err)
	assert.Equal(t, EntryDir, e.Type)

	_, err = d.Stat(ctx, "/pub/missing.txt")

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "/pub/missing.txt", nf.Path)
	assert.True(t, IsNotFound(err))

	root, err := d.Stat(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, EntryDir, root.Type)
}

func TestDirectoryAgainstServer(t *testing.T) {
	files := map[string][]byte{
		"/pub/data/a.txt":     []byte("hello"),
		"/pub/data/sub/b.txt": []byte("nested"),
	}

	for name, opts := range map[string][]ftptest.Option{
		"mlsd":   nil,
		"legacy": {ftptest.WithoutMLSD()},
	} {
		t.Run(name, func(t *testing.T) {
			srv := ftptest.NewServer(files, opts...)
			defer srv.Close()

			d := NewDirectory(dialTestServer(t, srv))

			entries, err := d.List(context.Background(), "/pub/data")
			require.NoError(t, err)
			require.Len(t, entries, 2)

			assert.Equal(t, "a.txt", entries[0].Name)
			assert.Equal(t, EntryFile, entries[0].Type)
			assert.EqualValues(t, 5, entries[0].Size)

			assert.Equal(t, "sub", entries[1].Name)
			assert.Equal(t, EntryDir, entries[1].Type)
			assert.EqualValues(t, 0, entries[1].Size)

			_, err = d.Stat(context.Background(), "/pub/nowhere/x")
			assert.True(t, IsNotFound(err))
		})
	}
}
