package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/aletheia_data/internal/cache"
	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/storage/sqlite"
	"github.com/italolelis/aletheia_data/internal/transfer"
)

// mockStore implements Store for testing.
type mockStore struct {
	fetchFunc     func(ctx context.Context, name string, opts ...cache.FetchOption) (string, error)
	availableFunc func(ctx context.Context, name string) (bool, error)
	statuses      []cache.FileStatus
	lastName      string
	lastOpts      int
}

func (m *mockStore) Fetch(ctx context.Context, name string, opts ...cache.FetchOption) (string, error) {
	m.lastName = name
	m.lastOpts = len(opts)

	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, name, opts...)
	}

	return "/cache/" + name, nil
}

func (m *mockStore) IsAvailable(ctx context.Context, name string) (bool, error) {
	m.lastName = name

	if m.availableFunc != nil {
		return m.availableFunc(ctx, name)
	}

	return true, nil
}

func (m *mockStore) Status(name string) (cache.FileStatus, error) {
	for _, st := range m.statuses {
		if st.Name == name {
			return st, nil
		}
	}

	return cache.FileStatus{}, &cache.UnknownFileError{Name: name}
}

func (m *mockStore) Statuses() ([]cache.FileStatus, error) {
	return m.statuses, nil
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	return rec
}

func TestHandleList(t *testing.T) {
	store := &mockStore{statuses: []cache.FileStatus{
		{Name: "a.txt", State: cache.StateValid},
		{Name: "b.txt", State: cache.StateMissing},
	}}

	rec := serve(t, NewFilesHandler(store, nil, "", "", nil).Routes(), http.MethodGet, "/files")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []cache.FileStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, cache.StateMissing, got[1].State)
}

func TestHandleStatus(t *testing.T) {
	store := &mockStore{statuses: []cache.FileStatus{{Name: "dir/a.txt", State: cache.StateStale}}}
	routes := NewFilesHandler(store, nil, "", "", nil).Routes()

	rec := serve(t, routes, http.MethodGet, "/files/status/dir/a.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"stale"`)

	rec = serve(t, routes, http.MethodGet, "/files/status/nope.txt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFetch(t *testing.T) {
	store := &mockStore{}
	routes := NewFilesHandler(store, nil, "", "", nil).Routes()

	rec := serve(t, routes, http.MethodPost, "/files/fetch/data/hello.txt")
	require.Equal(t, http.StatusOK, rec.Code)

	var got FetchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, FetchResponse{Name: "data/hello.txt", Path: "/cache/data/hello.txt"}, got)
	assert.Zero(t, store.lastOpts)

	rec = serve(t, routes, http.MethodPost, "/files/fetch/data/hello.txt.gz?decompress=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.lastOpts)

	rec = serve(t, routes, http.MethodGet, "/files/fetch/data/hello.txt")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleFetchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "unknown file", err: &cache.UnknownFileError{Name: "x"}, code: http.StatusNotFound},
		{
			name: "hash mismatch",
			err:  &cache.HashMismatchError{Name: "x", Expected: digest.FromString("a"), Actual: digest.FromString("b")},
			code: http.StatusBadGateway,
		},
		{
			name: "upstream status",
			err: &transfer.TransportError{Op: "get", URL: "http://h/x", Err: &transfer.HTTPStatusError{
				URL: "http://h/x", StatusCode: http.StatusNotFound, Status: "404 Not Found",
			}},
			code: http.StatusBadGateway,
		},
		{name: "local failure", err: errors.New("disk full"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{fetchFunc: func(context.Context, string, ...cache.FetchOption) (string, error) {
				return "", tt.err
			}}

			rec := serve(t, NewFilesHandler(store, nil, "", "", nil).Routes(), http.MethodPost, "/files/fetch/x")
			assert.Equal(t, tt.code, rec.Code)

			var got ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.err.Error(), got.Error)
		})
	}
}

func TestHandleAvailable(t *testing.T) {
	store := &mockStore{availableFunc: func(_ context.Context, name string) (bool, error) {
		return name == "here.txt", nil
	}}
	routes := NewFilesHandler(store, nil, "", "", nil).Routes()

	rec := serve(t, routes, http.MethodGet, "/files/available/here.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"here.txt","available":true}`, rec.Body.String())

	rec = serve(t, routes, http.MethodGet, "/files/available/gone.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"gone.txt","available":false}`, rec.Body.String())
}

func TestHandleHistory(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(ctx, sqlite.MemoryDB)
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewFetchRepository(db)
	for i, name := range []string{"a.txt", "b.txt", "a.txt"} {
		require.NoError(t, repo.RecordFetch(ctx, storage.FetchRecord{
			Name: name, Action: "download", Status: storage.StatusSuccess,
			FetchedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	routes := NewFilesHandler(&mockStore{}, repo, "", "", nil).Routes()

	rec := serve(t, routes, http.MethodGet, "/fetches?name=a.txt")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []storage.FetchRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Len(t, got, 2)

	rec = serve(t, routes, http.MethodGet, "/fetches?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Len(t, got, 1)

	rec = serve(t, routes, http.MethodGet, "/fetches?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryNotServedWithoutLedger(t *testing.T) {
	rec := serve(t, NewFilesHandler(&mockStore{}, nil, "", "", nil).Routes(), http.MethodGet, "/fetches")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	routes := NewFilesHandler(&mockStore{}, nil, "user", "secret", nil).Routes()

	rec := serve(t, routes, http.MethodGet, "/files")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.SetBasicAuth("user", "wrong")

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.SetBasicAuth("user", "secret")

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
