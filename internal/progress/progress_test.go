package progress

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	total    int64
	added    []int64
	complete bool
}

func (s *countingSink) SetTotal(total int64) { s.total = total }
func (s *countingSink) Add(n int64)          { s.added = append(s.added, n) }
func (s *countingSink) Complete()            { s.complete = true }

func TestReaderForwardsBlockSizes(t *testing.T) {
	sink := &countingSink{}
	r := NewReader(strings.NewReader("hello world"), sink)

	buf := make([]byte, 4)

	var out bytes.Buffer

	_, err := io.CopyBuffer(&out, struct{ io.Reader }{r}, buf)
	require.NoError(t, err)

	assert.Equal(t, "hello world", out.String())
	assert.Equal(t, []int64{4, 4, 3}, sink.added)
	assert.Equal(t, int64(11), r.BytesRead())
}

func TestNewReaderNilSinkDiscards(t *testing.T) {
	r := NewReader(strings.NewReader("abc"), nil)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestLogBarCompleteFillsToAdvertisedTotal(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bar := NewLogBar(logger, "a.txt", 0)
	bar.SetTotal(100)
	bar.Add(60)
	bar.Complete()

	assert.Equal(t, int64(100), bar.Written())
	assert.Contains(t, buf.String(), "download complete")
	assert.Contains(t, buf.String(), `"percent":"100"`)
}

func TestLogBarWithoutTotalKeepsCount(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	bar := NewLogBar(logger, "a.txt", 10)
	bar.Add(25)
	bar.Add(0)
	bar.Complete()

	assert.Equal(t, int64(25), bar.Written())
}
