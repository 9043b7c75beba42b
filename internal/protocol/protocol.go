package protocol

import (
	"net/url"
	"strings"
)

// Protocol identifies the wire protocol used to reach a remote source.
type Protocol int

const (
	Unknown Protocol = iota
	HTTP
	FTP
)

func (p Protocol) String() string {
	switch p {
	case HTTP:
		return "http"
	case FTP:
		return "ftp"
	default:
		return "unknown"
	}
}

// Options is the result of inspecting a source location.
type Options struct {
	Protocol Protocol
	// Scheme is the raw scheme, "file" when the location carries none.
	Scheme string
	Path   string
}

// Infer inspects a URL or path and reports its scheme alongside the original location.
func Infer(location string) Options {
	scheme := "file"

	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		scheme = strings.ToLower(u.Scheme)
	}

	return Options{
		Protocol: fromScheme(scheme),
		Scheme:   scheme,
		Path:     location,
	}
}

// Resolve classifies location into a Protocol from its scheme.
func Resolve(location string) Protocol {
	return Infer(location).Protocol
}

func fromScheme(scheme string) Protocol {
	switch scheme {
	case "http", "https":
		return HTTP
	case "ftp":
		return FTP
	default:
		return Unknown
	}
}
