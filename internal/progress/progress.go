// Package progress reports byte counts while remote files are transferred.
// Sinks are observational only: nothing they do affects what ends up on disk.
package progress

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/aletheia_data/internal/logctx"
)

const defaultReportInterval = int64(5 * 1024 * 1024) // 5MB

// Sink receives monotonically increasing byte counts during a transfer.
type Sink interface {
	// SetTotal announces the expected size, 0 when unknown.
	SetTotal(total int64)
	// Add advances the counter by n bytes.
	Add(n int64)
	// Complete marks the transfer as finished.
	Complete()
}

// Factory builds a Sink for a named file.
type Factory func(ctx context.Context, name string) Sink

// Discard is a Sink that ignores everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) SetTotal(int64) {}
func (discard) Add(int64)      {}
func (discard) Complete()      {}

// DiscardFactory returns Discard for every file.
func DiscardFactory(context.Context, string) Sink { return Discard }

// LogBar is a Sink that renders progress as structured log lines.
type LogBar struct {
	logger         *slog.Logger
	name           string
	total          int64
	written        int64
	lastReport     int64
	reportInterval int64
}

// NewLogBar creates a LogBar reporting every interval bytes. A non-positive interval
// falls back to 5MB.
func NewLogBar(logger *slog.Logger, name string, interval int64) *LogBar {
	if interval <= 0 {
		interval = defaultReportInterval
	}

	return &LogBar{
		logger:         logger,
		name:           name,
		reportInterval: interval,
	}
}

// LogBarFactory returns a Factory producing LogBars bound to the context logger.
func LogBarFactory(interval int64) Factory {
	return func(ctx context.Context, name string) Sink {
		return NewLogBar(logctx.LoggerFromContext(ctx), name, interval)
	}
}

func (b *LogBar) SetTotal(total int64) {
	b.total = total
}

func (b *LogBar) Add(n int64) {
	if n <= 0 {
		return
	}

	b.written += n
	b.lastReport += n

	if b.lastReport >= b.reportInterval {
		b.report("download progress")
		b.lastReport = 0
	}
}

// Complete fills the bar up to the advertised total when fewer bytes were counted.
// Servers that compress on the fly send fewer bytes than Content-Length announces, and a
// half-filled bar at the end of a successful transfer would only confuse the reader.
func (b *LogBar) Complete() {
	if b.total > 0 && b.written < b.total {
		b.written = b.total
	}

	b.report("download complete")
}

// Written returns the number of bytes the bar currently shows.
func (b *LogBar) Written() int64 {
	return b.written
}

func (b *LogBar) report(msg string) {
	if b.total > 0 {
		b.logger.Debug(msg,
			"file", b.name,
			"downloaded", humanize.Bytes(uint64(b.written)),
			"total", humanize.Bytes(uint64(b.total)),
			"percent", humanize.FtoaWithDigits(float64(b.written)*100/float64(b.total), 2))

		return
	}

	b.logger.Debug(msg, "file", b.name, "downloaded", humanize.Bytes(uint64(b.written)))
}
