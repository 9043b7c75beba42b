package transfer

import (
	"context"
	"errors"
	"io"

	"github.com/italolelis/aletheia_data/internal/progress"
	"github.com/italolelis/aletheia_data/internal/protocol"
)

// Transport moves the bytes of one remote source into a local sink.
type Transport interface {
	// Transfer streams sourceURL into sink, reporting byte counts to p.
	Transfer(ctx context.Context, sourceURL string, sink io.Writer, p progress.Sink) error
	// Probe checks that sourceURL exists without transferring its body. It returns
	// false only when the server gives a well-formed "not found" answer.
	Probe(ctx context.Context, sourceURL string) (bool, error)
}

// Mux dispatches to the Transport registered for the protocol of each URL.
type Mux struct {
	transports map[protocol.Protocol]Transport
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{transports: make(map[protocol.Protocol]Transport)}
}

// Handle registers t for p, replacing any previous registration.
func (m *Mux) Handle(p protocol.Protocol, t Transport) *Mux {
	m.transports[p] = t

	return m
}

// For returns the transport serving sourceURL.
func (m *Mux) For(sourceURL string) (Transport, error) {
	t, ok := m.transports[protocol.Resolve(sourceURL)]
	if !ok {
		return nil, newTransportError("resolve", sourceURL, ErrUnsupportedProtocol)
	}

	return t, nil
}

func (m *Mux) Transfer(ctx context.Context, sourceURL string, sink io.Writer, p progress.Sink) error {
	t, err := m.For(sourceURL)
	if err != nil {
		return err
	}

	return t.Transfer(ctx, sourceURL, sink, p)
}

func (m *Mux) Probe(ctx context.Context, sourceURL string) (bool, error) {
	t, err := m.For(sourceURL)
	if err != nil {
		return false, err
	}

	return t.Probe(ctx, sourceURL)
}

// Close closes every registered transport that holds a connection.
func (m *Mux) Close() error {
	var errs []error

	for _, t := range m.transports {
		if c, ok := t.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}

	return errors.Join(errs...)
}
