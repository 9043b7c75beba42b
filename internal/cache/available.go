package cache

import (
	"context"

	"github.com/italolelis/aletheia_data/internal/logctx"
)

// IsAvailable reports whether the source of name exists on its server without
// downloading it. Unknown names fail with *UnknownFileError and transport failures
// are returned as errors rather than reported as false.
func (c *Cache) IsAvailable(ctx context.Context, name string) (bool, error) {
	if !c.registry.Has(name) {
		return false, &UnknownFileError{Name: name}
	}

	if _, err := c.destination(name); err != nil {
		return false, err
	}

	sourceURL := c.URL(name)

	ok, err := c.transport.Probe(ctx, sourceURL)
	if err != nil {
		return false, err
	}

	logctx.LoggerFromContext(c.withLogger(ctx)).DebugContext(ctx, "probed source",
		"file", name, "url", sourceURL, "available", ok)

	return ok, nil
}
