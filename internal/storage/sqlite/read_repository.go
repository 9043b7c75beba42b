package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/aletheia_data/internal/storage"
)

const selectFetches = `SELECT id, name, action, url, digest, status, error, bytes, fetched_at FROM fetches`

type FetchReadRepository struct {
	db *sql.DB
}

func NewFetchReadRepository(dbConn *sql.DB) *FetchReadRepository {
	return &FetchReadRepository{db: dbConn}
}

func (r *FetchReadRepository) GetFetches(ctx context.Context, limit int) ([]storage.FetchRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectFetches+` ORDER BY fetched_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFetches(rows)
}

func (r *FetchReadRepository) GetFetchesByName(ctx context.Context, name string, limit int) ([]storage.FetchRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectFetches+` WHERE name = ? ORDER BY fetched_at DESC, id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFetches(rows)
}

func (r *FetchReadRepository) LastSuccess(ctx context.Context, name string) (storage.FetchRecord, error) {
	row := r.db.QueryRowContext(ctx,
		selectFetches+` WHERE name = ? AND status = ? ORDER BY fetched_at DESC, id DESC LIMIT 1`,
		name, storage.StatusSuccess)

	record, err := scanFetch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.FetchRecord{}, storage.ErrNotFound
	}

	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFetch(s scanner) (storage.FetchRecord, error) {
	var record storage.FetchRecord

	err := s.Scan(&record.ID, &record.Name, &record.Action, &record.URL, &record.Digest,
		&record.Status, &record.Error, &record.Bytes, &record.FetchedAt)

	return record, err
}

func scanFetches(rows *sql.Rows) ([]storage.FetchRecord, error) {
	var records []storage.FetchRecord

	for rows.Next() {
		record, err := scanFetch(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
