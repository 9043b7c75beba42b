// Package processor holds post-processing hooks that run on verified cache files.
package processor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/italolelis/aletheia_data/internal/cache"
	"github.com/italolelis/aletheia_data/internal/logctx"
)

// Suffix is appended to the source path to name the decompressed output.
const Suffix = ".decomp"

// Format is a compression format Decompress understands.
type Format string

const (
	FormatAuto Format = "auto"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ErrUnknownFormat is returned when the format cannot be detected.
var ErrUnknownFormat = errors.New("unknown compression format")

// Decompress writes the decompressed content of a fetched file next to it and returns
// the output path. The output is rebuilt when the source was just downloaded or
// updated, or when the output is missing or older than the source. Otherwise an
// existing output is reused as is: its content is not verified, so an output edited in
// place after it was written is not detected.
type Decompress struct {
	Format Format
	// Name overrides the output file name, which otherwise is the source name plus Suffix.
	Name string
}

var _ cache.Processor = (*Decompress)(nil)

// NewDecompress returns a Decompress that detects the format of its input.
func NewDecompress() *Decompress {
	return &Decompress{Format: FormatAuto}
}

func (d *Decompress) Process(ctx context.Context, path string, action cache.Action, _ cache.ContentStore) (string, error) {
	logger := logctx.LoggerFromContext(ctx)
	out := d.output(path)

	if action == cache.ActionFetch {
		current, err := upToDate(path, out)
		if err != nil {
			return "", err
		}

		if current {
			return out, nil
		}
	}

	n, err := d.decompress(path, out)
	if err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "decompressed file", "path", out, "size", humanize.Bytes(uint64(n)))

	return out, nil
}

// upToDate reports whether out exists and is not older than src.
func upToDate(src, out string) (bool, error) {
	outInfo, err := os.Stat(out)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", out, err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", src, err)
	}

	return !outInfo.ModTime().Before(srcInfo.ModTime()), nil
}

func (d *Decompress) output(path string) string {
	if d.Name != "" {
		return filepath.Join(filepath.Dir(path), d.Name)
	}

	return path + Suffix
}

func (d *Decompress) decompress(src, dst string) (n int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	br := bufio.NewReader(in)

	format := d.Format
	if format == "" || format == FormatAuto {
		if format, err = detect(src, br); err != nil {
			return 0, err
		}
	}

	r, closeReader, err := newReader(format, br)
	if err != nil {
		return 0, err
	}
	defer closeReader()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if n, err = io.Copy(tmp, r); err != nil {
		return 0, fmt.Errorf("failed to decompress %s: %w", src, err)
	}

	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err = os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to publish %s: %w", dst, err)
	}

	return n, nil
}

// detect uses the file extension, then the leading magic bytes.
func detect(path string, br *bufio.Reader) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".gz", ".gzip":
		return FormatGzip, nil
	case ".zst", ".zstd":
		return FormatZstd, nil
	}

	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return FormatGzip, nil
	case bytes.HasPrefix(head, zstdMagic):
		return FormatZstd, nil
	}

	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

func newReader(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read gzip header: %w", err)
		}

		return zr, func() { zr.Close() }, nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}

		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}
