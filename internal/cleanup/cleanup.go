package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/aletheia_data/internal/logctx"
	"github.com/italolelis/aletheia_data/internal/registry"
	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/telemetry"
)

// Report counts what a prune removed.
type Report struct {
	TempFiles int   `json:"temp_files"`
	Orphans   int   `json:"orphans"`
	History   int64 `json:"history"`
}

// Pruner removes leftovers from the cache directory and old ledger rows.
type Pruner struct {
	Root     string
	Registry *registry.Registry
	// KeepTempFor is how long an abandoned temporary file is left alone. Younger ones
	// may belong to a fetch in progress.
	KeepTempFor time.Duration
	// KeepHistoryFor is how long fetch records are kept. Zero keeps them forever.
	KeepHistoryFor time.Duration
	// RemoveOrphans also deletes files the registry does not list.
	RemoveOrphans bool
	Ledger        storage.FetchWriteRepository
	Telemetry     *telemetry.Telemetry
}

// Prune runs one pass and reports what it removed.
func (p *Pruner) Prune(ctx context.Context) (Report, error) {
	var report Report

	n, err := DeleteStaleTemporaryFiles(ctx, p.Root, p.KeepTempFor)
	report.TempFiles = n
	p.Telemetry.RecordCleanup("temp", n)

	if err != nil {
		return report, err
	}

	if p.RemoveOrphans && p.Registry != nil {
		n, err := DeleteOrphans(ctx, p.Root, p.Registry)
		report.Orphans = n
		p.Telemetry.RecordCleanup("orphan", n)

		if err != nil {
			return report, err
		}
	}

	if p.Ledger != nil && p.KeepHistoryFor > 0 {
		deleted, err := p.Ledger.DeleteOlderThan(ctx, time.Now().Add(-p.KeepHistoryFor))
		if err != nil {
			return report, fmt.Errorf("failed to prune fetch history: %w", err)
		}

		report.History = deleted
		p.Telemetry.RecordCleanup("history", int(deleted))
	}

	return report, nil
}

// Start prunes every interval until ctx is done.
func (p *Pruner) Start(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down")

				return
			case <-ticker.C:
				report, err := p.Prune(ctx)
				if err != nil {
					logger.Error("failed to prune cache", "err", err)

					continue
				}

				logger.Debug("pruned cache", "temp_files", report.TempFiles, "orphans", report.Orphans,
					"history", report.History)
			}
		}
	}()
}

// IsTemporary reports whether name is a file the cache or its processors write before
// renaming it into place.
func IsTemporary(name string) bool {
	return strings.HasPrefix(name, ".") &&
		(strings.Contains(name, ".fetch-") || strings.Contains(name, ".tmp-") || strings.HasPrefix(name, ".write-test-"))
}

// DeleteStaleTemporaryFiles deletes temporary files under root older than keep.
func DeleteStaleTemporaryFiles(ctx context.Context, root string, keep time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()
	removed := 0

	err := walkFiles(ctx, root, func(path string, d fs.DirEntry) error {
		if !IsTemporary(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // renamed or removed meanwhile
			}

			return err
		}

		if now.Sub(info.ModTime()) <= keep {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete temporary file", "file", path, "err", err)

			return err
		}

		removed++

		logger.Info("deleted stale temporary file", "file", path)

		return nil
	})

	return removed, err
}

// DeleteOrphans deletes files under root that are neither registry files nor derived
// from one. A derived file is named after a registry file plus an extension, like the
// output of a decompression.
func DeleteOrphans(ctx context.Context, root string, reg *registry.Registry) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	removed := 0

	err := walkFiles(ctx, root, func(path string, d fs.DirEntry) error {
		if IsTemporary(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if known(reg, filepath.ToSlash(rel)) {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete orphaned file", "file", path, "err", err)

			return err
		}

		removed++

		logger.Info("deleted orphaned file", "file", path)

		return nil
	})

	return removed, err
}

func known(reg *registry.Registry, name string) bool {
	if reg.Has(name) {
		return true
	}

	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '/' {
			break
		}

		if name[i] == '.' && reg.Has(name[:i]) {
			return true
		}
	}

	return false
}

// walkFiles calls fn for each regular file under root. A missing root is empty.
func walkFiles(ctx context.Context, root string, fn func(path string, d fs.DirEntry) error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		return fn(path, d)
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return nil
}
