// Package cache keeps local copies of registry files that are guaranteed to match
// their expected digests.
//
// A file is downloaded into a private temporary sibling of its destination, verified
// and only then renamed into place, so a name that is visible on disk when Fetch
// returns always holds verified content. Concurrent fetches of the same name are not
// coordinated: each downloads on its own and the last rename wins, which is wasteful
// but safe since both copies are valid.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/italolelis/aletheia_data/internal/config"
	"github.com/italolelis/aletheia_data/internal/notifier"
	"github.com/italolelis/aletheia_data/internal/progress"
	"github.com/italolelis/aletheia_data/internal/protocol"
	"github.com/italolelis/aletheia_data/internal/registry"
	"github.com/italolelis/aletheia_data/internal/storage"
	"github.com/italolelis/aletheia_data/internal/telemetry"
	"github.com/italolelis/aletheia_data/internal/transfer"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	versionPlaceholder = "{version}"
)

// Action is what Fetch had to do to produce a valid local copy.
type Action string

const (
	// ActionDownload means the file was absent and has been downloaded.
	ActionDownload Action = "download"
	// ActionUpdate means a stale local copy has been replaced.
	ActionUpdate Action = "update"
	// ActionFetch means the local copy was already valid.
	ActionFetch Action = "fetch"
)

// ContentStore is a registry-backed local store of verified files.
type ContentStore interface {
	Fetch(ctx context.Context, name string, opts ...FetchOption) (string, error)
	IsAvailable(ctx context.Context, name string) (bool, error)
	Path() string
	Registry() *registry.Registry
}

// Cache is the filesystem ContentStore.
type Cache struct {
	root      string
	baseURL   string
	registry  *registry.Registry
	urls      map[string]string
	transport transfer.Transport
	progress  progress.Factory
	ledger    storage.FetchWriteRepository
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry
	logger    *slog.Logger
}

var _ ContentStore = (*Cache)(nil)

type options struct {
	urls       map[string]string
	version    string
	versionDev string
	envName    string
	algorithm  digest.Algorithm
	transport  transfer.Transport
	progress   progress.Factory
	ledger     storage.FetchWriteRepository
	notifier   notifier.Notifier
	telemetry  *telemetry.Telemetry
	logger     *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithURLs sets per-name source URLs that take precedence over the base URL.
func WithURLs(urls map[string]string) Option {
	return func(o *options) {
		o.urls = urls
	}
}

// WithVersion appends version to the storage root and substitutes it for {version} in
// the base URL. Development versions, those carrying a "+" build suffix, use
// versionDev instead.
func WithVersion(version, versionDev string) Option {
	return func(o *options) {
		o.version = version
		o.versionDev = versionDev
	}
}

// WithEnv names an environment variable that overrides the storage root when set.
func WithEnv(name string) Option {
	return func(o *options) {
		o.envName = name
	}
}

// WithAlgorithm requires the registry to verify with algorithm a. New fails when the
// registry was built for another one.
func WithAlgorithm(a digest.Algorithm) Option {
	return func(o *options) {
		o.algorithm = a
	}
}

// WithTransports replaces the default HTTP and FTP transports.
func WithTransports(t transfer.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithProgress sets how transfers report progress. Nothing is reported by default.
func WithProgress(f progress.Factory) Option {
	return func(o *options) {
		o.progress = f
	}
}

// WithLedger records every download and update attempt.
func WithLedger(l storage.FetchWriteRepository) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// WithNotifier announces updates and failed fetches.
func WithNotifier(n notifier.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithTelemetry instruments fetches.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = t
	}
}

// WithLogger sets the logger used when no logger travels in the context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a Cache storing the files of reg under root and downloading them from
// baseURL + name. The root is created on demand; when it cannot be created or is not
// writable a warning is logged and New still succeeds, leaving later fetches to fail.
func New(root, baseURL string, reg *registry.Registry, opts ...Option) (*Cache, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.algorithm != "" && o.algorithm != reg.Algorithm() {
		return nil, fmt.Errorf("registry uses %s, cache expects %s", reg.Algorithm(), o.algorithm)
	}

	if o.envName != "" {
		if v := os.Getenv(o.envName); v != "" {
			root = v
		}
	}

	root, err := config.ExpandHome(root)
	if err != nil {
		return nil, err
	}

	if o.version != "" {
		version := o.version
		if strings.Contains(version, "+") {
			version = o.versionDev
		}

		root = filepath.Join(root, version)
		baseURL = strings.ReplaceAll(baseURL, versionPlaceholder, version)
	}

	if root, err = filepath.Abs(root); err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	if o.transport == nil {
		o.transport = transfer.NewMux().
			Handle(protocol.HTTP, transfer.NewHTTPTransport()).
			Handle(protocol.FTP, transfer.NewFTPTransport())
	}

	if o.progress == nil {
		o.progress = progress.DiscardFactory
	}

	urls := reg.URLs()
	for name, u := range o.urls {
		urls[name] = u
	}

	c := &Cache{
		root:      root,
		baseURL:   baseURL,
		registry:  reg,
		urls:      urls,
		transport: o.transport,
		progress:  o.progress,
		ledger:    o.ledger,
		notifier:  o.notifier,
		telemetry: o.telemetry,
		logger:    o.logger,
	}

	c.prepareRoot()

	return c, nil
}

// prepareRoot creates the root and checks that files can be created in it.
func (c *Cache) prepareRoot() {
	if err := os.MkdirAll(c.root, dirPerm); err != nil {
		c.logger.Warn("cannot create cache directory, fetches will fail", "root", c.root, "err", err)

		return
	}

	probe, err := os.CreateTemp(c.root, ".write-test-*")
	if err != nil {
		c.logger.Warn("cache directory is not writable, fetches will fail", "root", c.root, "err", err)

		return
	}

	probe.Close()
	os.Remove(probe.Name())
}

// Path returns the absolute storage root.
func (c *Cache) Path() string {
	return c.root
}

// Registry returns the registry the cache verifies against.
func (c *Cache) Registry() *registry.Registry {
	return c.registry
}

// BaseURL returns the base URL with the version substituted.
func (c *Cache) BaseURL() string {
	return c.baseURL
}

// URL returns the source of name: its override when one exists, base URL + name otherwise.
func (c *Cache) URL(name string) string {
	if u, ok := c.urls[name]; ok {
		return u
	}

	return c.baseURL + name
}

// Close releases the connections held by the transports.
func (c *Cache) Close() error {
	if closer, ok := c.transport.(interface{ Close() error }); ok {
		return closer.Close()
	}

	return nil
}

// destination maps a registry name, always slash separated, to its path under root.
func (c *Cache) destination(name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", &UnknownFileError{Name: name, Reason: "path escapes the cache directory"}
	}

	return filepath.Join(c.root, local), nil
}
