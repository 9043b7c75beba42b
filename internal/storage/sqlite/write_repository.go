package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/aletheia_data/internal/storage"
)

// FetchWriteRepository implements storage.FetchWriteRepository
// and stores fetch records in SQLite.
type FetchWriteRepository struct {
	db *sql.DB
}

func NewFetchWriteRepository(db *sql.DB) *FetchWriteRepository {
	return &FetchWriteRepository{db: db}
}

func (r *FetchWriteRepository) RecordFetch(ctx context.Context, rec storage.FetchRecord) error {
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fetches (name, action, url, digest, status, error, bytes, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Action, rec.URL, rec.Digest, rec.Status, rec.Error, rec.Bytes, rec.FetchedAt.UTC(),
	)

	return err
}

func (r *FetchWriteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fetches WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
