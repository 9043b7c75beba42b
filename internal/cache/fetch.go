package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"

	"github.com/italolelis/aletheia_data/internal/logctx"
	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/transfer"
)

// Processor post-processes a fetched file. Its returned path becomes the result of
// Fetch. It runs on every successful fetch, cache hits included, and can use action to
// skip work that is already done.
type Processor interface {
	Process(ctx context.Context, path string, action Action, store ContentStore) (string, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, path string, action Action, store ContentStore) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, path string, action Action, store ContentStore) (string, error) {
	return f(ctx, path, action, store)
}

type fetchOptions struct {
	processor Processor
	transport transfer.Transport
}

// FetchOption configures a single Fetch.
type FetchOption func(*fetchOptions)

// WithProcessor runs p on the verified file.
func WithProcessor(p Processor) FetchOption {
	return func(o *fetchOptions) {
		o.processor = p
	}
}

// WithTransport uses t for this fetch instead of the cache transports.
func WithTransport(t transfer.Transport) FetchOption {
	return func(o *fetchOptions) {
		o.transport = t
	}
}

// Fetch returns the local path of name, downloading it first when it is absent or
// does not match the registry. Unknown names fail with *UnknownFileError before any
// I/O. A download that fails verification fails with *HashMismatchError and leaves
// the destination as it was.
func (c *Cache) Fetch(ctx context.Context, name string, opts ...FetchOption) (string, error) {
	var fo fetchOptions
	for _, opt := range opts {
		opt(&fo)
	}

	expected, ok := c.registry.Digest(name)
	if !ok {
		return "", &UnknownFileError{Name: name}
	}

	dest, err := c.destination(name)
	if err != nil {
		return "", err
	}

	ctx, logger := logctx.With(c.withLogger(ctx), "file", name)

	var result string

	err = c.telemetry.InstrumentFetch(ctx, func(ctx context.Context) (string, error) {
		action, err := c.decide(dest, expected)
		if err != nil {
			return "", err
		}

		if action == ActionFetch {
			logger.DebugContext(ctx, "cache hit", "path", dest)
		} else if err := c.download(ctx, name, dest, expected, action, fo.transport); err != nil {
			return string(action), err
		}

		result = dest

		if fo.processor != nil {
			processed, err := fo.processor.Process(ctx, dest, action, c)
			if err != nil {
				return string(action), fmt.Errorf("failed to post-process %s: %w", name, err)
			}

			result = processed
		}

		return string(action), nil
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

// decide inspects the destination: absent means download, a digest other than the
// expected one means update, anything else is a hit.
func (c *Cache) decide(dest string, expected digest.Digest) (Action, error) {
	if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
		return ActionDownload, nil
	} else if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", dest, err)
	}

	actual, err := hashFile(dest, expected.Algorithm())
	if err != nil {
		return "", err
	}

	if actual != expected {
		return ActionUpdate, nil
	}

	return ActionFetch, nil
}

// download streams the source of name into a temporary sibling of dest, verifies it
// and renames it onto dest. The temporary file is removed on every failure path.
func (c *Cache) download(
	ctx context.Context, name, dest string, expected digest.Digest, action Action, override transfer.Transport,
) (err error) {
	logger := logctx.LoggerFromContext(ctx)
	sourceURL := c.URL(name)

	transport := c.transport
	if override != nil {
		transport = override
	}

	rec := storage.FetchRecord{
		Name:   name,
		Action: string(action),
		URL:    sourceURL,
		Digest: expected.String(),
	}

	defer func() {
		c.record(ctx, rec, err)
	}()

	logger.InfoContext(ctx, "downloading file", "action", action, "url", sourceURL)

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".fetch-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tmpPath := tmp.Name()
	published := false

	defer func() {
		if !published {
			tmp.Close()

			if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.WarnContext(ctx, "failed to remove temporary file", "path", tmpPath, "err", rmErr)
			}
		}
	}()

	if err := transport.Transfer(ctx, sourceURL, tmp, c.progress(ctx, name)); err != nil {
		return fmt.Errorf("failed to download %s: %w", name, err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to stat temporary file: %w", err)
	}

	rec.Bytes = info.Size()

	actual, err := hashFile(tmpPath, expected.Algorithm())
	if err != nil {
		return err
	}

	if actual != expected {
		c.telemetry.RecordHashMismatch()

		return &HashMismatchError{Name: name, URL: sourceURL, Expected: expected, Actual: actual}
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}

	published = true

	logger.InfoContext(ctx, "downloaded and verified file", "action", action, "path", dest,
		"size", humanize.Bytes(uint64(rec.Bytes)))

	return nil
}

// record writes the outcome to the ledger and notifies about updates and failures.
// Neither is allowed to fail the fetch.
func (c *Cache) record(ctx context.Context, rec storage.FetchRecord, fetchErr error) {
	ctx = context.WithoutCancel(ctx)
	logger := logctx.LoggerFromContext(ctx)

	rec.Status = storage.StatusSuccess
	rec.FetchedAt = time.Now()

	if fetchErr != nil {
		rec.Status = storage.StatusFailed
		rec.Error = fetchErr.Error()
	}

	if c.ledger != nil {
		if err := c.ledger.RecordFetch(ctx, rec); err != nil {
			logger.WarnContext(ctx, "failed to record fetch", "err", err)
		}
	}

	if c.notifier == nil {
		return
	}

	var msg string

	switch {
	case fetchErr != nil:
		msg = fmt.Sprintf("Failed to fetch %s: %v", rec.Name, fetchErr)
	case rec.Action == string(ActionUpdate):
		msg = fmt.Sprintf("Updated %s (%s)", rec.Name, humanize.Bytes(uint64(rec.Bytes)))
	default:
		return
	}

	if err := c.notifier.Notify(ctx, msg); err != nil {
		logger.WarnContext(ctx, "failed to send notification", "err", err)
	}
}

func (c *Cache) withLogger(ctx context.Context) context.Context {
	if logctx.HasLogger(ctx) || c.logger == nil {
		return ctx
	}

	return logctx.WithLogger(ctx, c.logger)
}

func hashFile(path string, alg digest.Algorithm) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	d, err := alg.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return d, nil
}
