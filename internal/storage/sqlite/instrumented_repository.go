package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/telemetry"
)

// InstrumentedFetchRepository wraps FetchRepository with telemetry.
type InstrumentedFetchRepository struct {
	repo      *FetchRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetchRepository creates a new instrumented fetch repository.
func NewInstrumentedFetchRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedFetchRepository {
	return &InstrumentedFetchRepository{
		repo:      NewFetchRepository(dbConn),
		telemetry: tel,
	}
}

// GetFetches retrieves recent fetches with telemetry.
func (r *InstrumentedFetchRepository) GetFetches(ctx context.Context, limit int) ([]storage.FetchRecord, error) {
	var result []storage.FetchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_fetches", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFetches(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetFetchesByName retrieves the fetches of one file with telemetry.
func (r *InstrumentedFetchRepository) GetFetchesByName(ctx context.Context, name string, limit int) ([]storage.FetchRecord, error) {
	var result []storage.FetchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_fetches_by_name", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFetchesByName(ctx, name, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LastSuccess retrieves the latest successful fetch with telemetry.
func (r *InstrumentedFetchRepository) LastSuccess(ctx context.Context, name string) (storage.FetchRecord, error) {
	var result storage.FetchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "last_success", func(ctx context.Context) error {
		var err error

		result, err = r.repo.LastSuccess(ctx, name)

		return err
	})

	return result, err
}

// RecordFetch stores a fetch with telemetry.
func (r *InstrumentedFetchRepository) RecordFetch(ctx context.Context, rec storage.FetchRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_fetch", func(ctx context.Context) error {
		return r.repo.RecordFetch(ctx, rec)
	})
}

// DeleteOlderThan prunes the ledger with telemetry.
func (r *InstrumentedFetchRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_older_than", func(ctx context.Context) error {
		var err error

		deleted, err = r.repo.DeleteOlderThan(ctx, cutoff)

		return err
	})

	return deleted, err
}
