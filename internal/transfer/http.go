package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/aletheia_data/internal/progress"
)

// DefaultChunkSize is the read size of HTTP bodies.
const DefaultChunkSize = 1024

// NewHTTPClient returns a client with a tuned connection pool and tracing on every
// outgoing request. timeout bounds a whole request, body included; zero means none.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// HTTPTransport fetches http and https sources with streaming GET requests.
type HTTPTransport struct {
	client    *http.Client
	chunkSize int
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithChunkSize sets how many bytes are read, written and reported at a time.
func WithChunkSize(n int) HTTPOption {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// NewHTTPTransport returns an HTTPTransport using NewHTTPClient(0) unless told otherwise.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(t)
	}

	if t.client == nil {
		t.client = NewHTTPClient(0)
	}

	return t
}

// Transfer GETs sourceURL and copies the body into sink chunk by chunk. The status is
// checked before any byte is written. When the server advertised a Content-Length,
// it becomes the progress total; p is completed at the end even if fewer bytes
// arrived, which happens when the body was re-encoded in flight.
func (t *HTTPTransport) Transfer(ctx context.Context, sourceURL string, sink io.Writer, p progress.Sink) error {
	if p == nil {
		p = progress.Discard
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return newTransportError("transfer", sourceURL, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return newTransportError("transfer", sourceURL, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(sourceURL, resp); err != nil {
		return newTransportError("transfer", sourceURL, err)
	}

	if resp.ContentLength > 0 {
		p.SetTotal(resp.ContentLength)
	}

	body := progress.NewReader(resp.Body, p)
	flusher, _ := sink.(interface{ Flush() error })
	buf := make([]byte, t.chunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write chunk: %w", err)
			}

			if flusher != nil {
				if err := flusher.Flush(); err != nil {
					return fmt.Errorf("failed to flush chunk: %w", err)
				}
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			return newTransportError("transfer", sourceURL, rerr)
		}
	}

	p.Complete()

	return nil
}

// Probe issues a HEAD request. Servers refusing HEAD are asked for the first byte
// instead, and the body is dropped unread. A 416 answer to that range request means
// the file exists but is empty.
func (t *HTTPTransport) Probe(ctx context.Context, sourceURL string) (bool, error) {
	resp, err := t.probe(ctx, http.MethodHead, sourceURL)
	if err != nil {
		return false, newTransportError("probe", sourceURL, err)
	}

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = t.probe(ctx, http.MethodGet, sourceURL)
		if err != nil {
			return false, newTransportError("probe", sourceURL, err)
		}

		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return true, nil
		}
	}

	err = checkStatus(sourceURL, resp)

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.NotFound() {
			return false, nil
		}

		return false, newTransportError("probe", sourceURL, err)
	}

	return true, nil
}

func (t *HTTPTransport) probe(ctx context.Context, method, sourceURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, sourceURL, nil)
	if err != nil {
		return nil, err
	}

	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	resp.Body.Close()

	return resp, nil
}

func checkStatus(sourceURL string, resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	return &HTTPStatusError{URL: redact(sourceURL), StatusCode: resp.StatusCode, Status: resp.Status}
}
