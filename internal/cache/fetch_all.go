package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultParallel is used by FetchAll when parallel is not positive.
const DefaultParallel = 4

// FetchAll fetches names, or every registry file when names is empty, with at most
// parallel transfers in flight. It stops at the first failure and returns the local
// paths keyed by name.
func (c *Cache) FetchAll(ctx context.Context, names []string, parallel int, opts ...FetchOption) (map[string]string, error) {
	if len(names) == 0 {
		names = c.registry.Names()
	}

	for _, name := range names {
		if !c.registry.Has(name) {
			return nil, &UnknownFileError{Name: name}
		}
	}

	if parallel <= 0 {
		parallel = DefaultParallel
	}

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, parallel)

	var mu sync.Mutex

	paths := make(map[string]string, len(names))

	for _, name := range names {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			if err := wg.Wait(); err != nil {
				return nil, fmt.Errorf("failed to fetch files: %w", err)
			}

			return nil, ctx.Err()
		}

		wg.Go(func() error {
			defer func() { <-sem }()

			path, err := c.Fetch(ctx, name, opts...)
			if err != nil {
				return err
			}

			mu.Lock()
			paths[name] = path
			mu.Unlock()

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch files: %w", err)
	}

	return paths, nil
}
