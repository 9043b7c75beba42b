package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/aletheia_data/internal/cache"
	"github.com/italolelis/aletheia_data/internal/logctx"
	"github.com/italolelis/aletheia_data/internal/processor"
	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/telemetry"
	"github.com/italolelis/aletheia_data/internal/transfer"
)

const defaultHistoryLimit = 50

// Store is the part of the cache the API serves.
type Store interface {
	Fetch(ctx context.Context, name string, opts ...cache.FetchOption) (string, error)
	IsAvailable(ctx context.Context, name string) (bool, error)
	Status(name string) (cache.FileStatus, error)
	Statuses() ([]cache.FileStatus, error)
}

type FetchResponse struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type AvailabilityResponse struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type FilesHandler struct {
	store     Store
	history   storage.FetchReadRepository
	username  string
	password  string
	telemetry *telemetry.Telemetry
}

// NewFilesHandler creates the cache API handler. Basic auth is enforced when a username
// is set. history may be nil, in which case /fetches is not served.
func NewFilesHandler(store Store, history storage.FetchReadRepository, username, password string, t *telemetry.Telemetry) *FilesHandler {
	return &FilesHandler{
		store:     store,
		history:   history,
		username:  username,
		password:  password,
		telemetry: t,
	}
}

func (h *FilesHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/files", h.HandleList)
	r.Get("/files/status/*", h.HandleStatus)
	r.Post("/files/fetch/*", h.HandleFetch)
	r.Get("/files/available/*", h.HandleAvailable)

	if h.history != nil {
		r.Get("/fetches", h.HandleHistory)
	}

	return r
}

// HandleList reports the local state of every registry file.
func (h *FilesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.store.Statuses()
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, statuses)
}

func (h *FilesHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Status(fileName(r))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, st)
}

// HandleFetch fetches a file and returns its local path. ?decompress=true runs the
// decompression processor.
func (h *FilesHandler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	name := fileName(r)
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received fetch request", "file", name)

	var opts []cache.FetchOption
	if decompress, _ := strconv.ParseBool(r.URL.Query().Get("decompress")); decompress {
		opts = append(opts, cache.WithProcessor(processor.NewDecompress()))
	}

	path, err := h.store.Fetch(r.Context(), name, opts...)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, FetchResponse{Name: name, Path: path})
}

func (h *FilesHandler) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	name := fileName(r)

	ok, err := h.store.IsAvailable(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, AvailabilityResponse{Name: name, Available: ok})
}

// HandleHistory lists recent fetch records, optionally filtered by ?name=.
func (h *FilesHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})

			return
		}

		limit = n
	}

	var (
		records []storage.FetchRecord
		err     error
	)

	if name := r.URL.Query().Get("name"); name != "" {
		records, err = h.history.GetFetchesByName(r.Context(), name, limit)
	} else {
		records, err = h.history.GetFetches(r.Context(), limit)
	}

	if err != nil {
		h.writeError(w, r, err)

		return
	}

	if records == nil {
		records = []storage.FetchRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

func (h *FilesHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeError maps the cache error taxonomy to status codes.
func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var (
		unknown  *cache.UnknownFileError
		mismatch *cache.HashMismatchError
		status   *transfer.HTTPStatusError
		tErr     *transfer.TransportError
	)

	code := http.StatusInternalServerError

	switch {
	case errors.As(err, &unknown):
		code = http.StatusNotFound
	case errors.As(err, &mismatch):
		code = http.StatusBadGateway

		h.telemetry.RecordSystemError("api", "hash_mismatch")
	case errors.As(err, &status), errors.As(err, &tErr):
		code = http.StatusBadGateway
	}

	if code >= http.StatusInternalServerError {
		logger.Error("failed to handle request", "path", r.URL.Path, "err", err)
	}

	writeJSON(w, r, code, ErrorResponse{Error: err.Error(), RequestID: telemetry.GetRequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// fileName returns the registry name captured by the trailing wildcard.
func fileName(r *http.Request) string {
	return strings.TrimPrefix(chi.URLParam(r, "*"), "/")
}
