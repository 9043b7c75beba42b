package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no ledger record matches.
var ErrNotFound = errors.New("fetch record not found")

// Fetch outcomes stored in FetchRecord.Status.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// FetchRecord is one ledger row: a download or update attempt for a registry entry.
// Cache hits are not recorded.
type FetchRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Action    string    `json:"action"`
	URL       string    `json:"url"`
	Digest    string    `json:"digest"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Bytes     int64     `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

type FetchReadRepository interface {
	// GetFetches returns the most recent records first, at most limit of them.
	GetFetches(ctx context.Context, limit int) ([]FetchRecord, error)
	GetFetchesByName(ctx context.Context, name string, limit int) ([]FetchRecord, error)
	// LastSuccess returns the latest successful record for name, or ErrNotFound.
	LastSuccess(ctx context.Context, name string) (FetchRecord, error)
}

type FetchWriteRepository interface {
	RecordFetch(ctx context.Context, rec FetchRecord) error
	// DeleteOlderThan prunes records fetched before cutoff and reports how many went.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// FetchRepository is the full ledger.
type FetchRepository interface {
	FetchReadRepository
	FetchWriteRepository
}
