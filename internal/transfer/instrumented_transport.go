package transfer

import (
	"context"
	"io"

	"github.com/italolelis/aletheia_data/internal/progress"
	"github.com/italolelis/aletheia_data/internal/telemetry"
)

// InstrumentedTransport wraps a Transport with telemetry.
type InstrumentedTransport struct {
	transport Transport
	telemetry *telemetry.Telemetry
	protocol  string
}

// NewInstrumentedTransport creates a new instrumented transport.
func NewInstrumentedTransport(transport Transport, tel *telemetry.Telemetry, protocol string) *InstrumentedTransport {
	return &InstrumentedTransport{
		transport: transport,
		telemetry: tel,
		protocol:  protocol,
	}
}

// Transfer transfers with telemetry, counting the bytes that reach the sink.
func (t *InstrumentedTransport) Transfer(ctx context.Context, sourceURL string, sink io.Writer, p progress.Sink) error {
	counter := &countingWriter{w: sink}

	err := t.telemetry.InstrumentTransportOperation(ctx, t.protocol, "transfer", func(ctx context.Context) error {
		return t.transport.Transfer(ctx, sourceURL, counter, p)
	})

	t.telemetry.RecordBytes(t.protocol, counter.n)

	return err
}

// Probe probes with telemetry.
func (t *InstrumentedTransport) Probe(ctx context.Context, sourceURL string) (bool, error) {
	var found bool

	err := t.telemetry.InstrumentTransportOperation(ctx, t.protocol, "probe", func(ctx context.Context) error {
		var err error

		found, err = t.transport.Probe(ctx, sourceURL)

		return err
	})

	return found, err
}

// Close closes the wrapped transport when it holds a connection.
func (t *InstrumentedTransport) Close() error {
	if c, ok := t.transport.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
