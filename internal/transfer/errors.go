package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrUnsupportedProtocol is wrapped by the TransportError returned for a URL whose
// scheme no registered transport speaks.
var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// TransportError is a network or protocol failure while transferring or probing a
// remote source. It is never retried here.
type TransportError struct {
	Op  string // "transfer", "probe" or "connect"
	URL string // Source URL with any password redacted
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-success HTTP response. It always reaches callers wrapped
// in a TransportError, so errors.As matches both.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s for %s", e.Status, e.URL)
}

// NotFound reports whether the response says the resource does not exist.
func (e *HTTPStatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

func newTransportError(op, rawURL string, err error) *TransportError {
	return &TransportError{Op: op, URL: redact(rawURL), Err: err}
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	return u.Redacted()
}
