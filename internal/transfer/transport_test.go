package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/aletheia_data/internal/progress"
	"github.com/italolelis/aletheia_data/internal/protocol"
	"github.com/italolelis/aletheia_data/internal/telemetry"
)

type stubTransport struct {
	body   string
	found  bool
	err    error
	calls  int
	closed bool
}

func (s *stubTransport) Transfer(_ context.Context, _ string, sink io.Writer, p progress.Sink) error {
	s.calls++
	if s.err != nil {
		return s.err
	}

	n, err := io.WriteString(sink, s.body)
	p.Add(int64(n))

	return err
}

func (s *stubTransport) Probe(context.Context, string) (bool, error) {
	s.calls++

	return s.found, s.err
}

func (s *stubTransport) Close() error {
	s.closed = true

	return nil
}

func TestMuxDispatchesOnScheme(t *testing.T) {
	httpT := &stubTransport{body: "via http", found: true}
	ftpT := &stubTransport{body: "via ftp"}

	mux := NewMux().Handle(protocol.HTTP, httpT).Handle(protocol.FTP, ftpT)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, mux.Transfer(ctx, "https://example.org/a.txt", &out, progress.Discard))
	assert.Equal(t, "via http", out.String())

	out.Reset()
	require.NoError(t, mux.Transfer(ctx, "ftp://example.org/a.txt", &out, progress.Discard))
	assert.Equal(t, "via ftp", out.String())

	ok, err := mux.Probe(ctx, "http://example.org/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mux.Close())
	assert.True(t, httpT.closed)
	assert.True(t, ftpT.closed)
}

func TestMuxUnsupportedProtocol(t *testing.T) {
	mux := NewMux().Handle(protocol.HTTP, &stubTransport{})

	for _, u := range []string{"s3://bucket/a.txt", "/local/a.txt", "ftp://example.org/a.txt"} {
		err := mux.Transfer(context.Background(), u, io.Discard, progress.Discard)

		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr, u)
		assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	}
}

func TestInstrumentedTransportPassesThrough(t *testing.T) {
	boom := errors.New("boom")

	inner := &stubTransport{body: "hello", found: true}
	tr := NewInstrumentedTransport(inner, &telemetry.Telemetry{}, "http")

	var out bytes.Buffer
	require.NoError(t, tr.Transfer(context.Background(), "http://example.org/a", &out, progress.Discard))
	assert.Equal(t, "hello", out.String())

	ok, err := tr.Probe(context.Background(), "http://example.org/a")
	require.NoError(t, err)
	assert.True(t, ok)

	inner.err = boom
	err = tr.Transfer(context.Background(), "http://example.org/a", &out, progress.Discard)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, tr.Close())
	assert.True(t, inner.closed)
}

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer

	cw := &countingWriter{w: &buf}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("de"))

	assert.EqualValues(t, 5, cw.n)
}
