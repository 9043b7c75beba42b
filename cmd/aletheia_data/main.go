package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/italolelis/aletheia_data/internal/cache"
	"github.com/italolelis/aletheia_data/internal/config"
	"github.com/italolelis/aletheia_data/internal/logctx"
	"github.com/italolelis/aletheia_data/internal/notifier"
	"github.com/italolelis/aletheia_data/internal/progress"
	"github.com/italolelis/aletheia_data/internal/protocol"
	"github.com/italolelis/aletheia_data/internal/registry"
	"github.com/italolelis/aletheia_data/internal/storage/sqlite"
	"github.com/italolelis/aletheia_data/internal/telemetry"
	"github.com/italolelis/aletheia_data/internal/transfer"
)

var version = "dev"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error: "+err.Error()))
		os.Exit(1)
	}
}

// app holds what the subcommands share. Pieces are built lazily so that commands such
// as "config show" work without a registry or a database.
type app struct {
	configPath string
	debug      bool

	cfg       *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	db        *sql.DB
	ledger    *sqlite.InstrumentedFetchRepository
	ftp       *transfer.FTPTransport
	cache     *cache.Cache
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "aletheia_data",
		Short:         "Keep a local cache of data files verified against a hash registry",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "settings file (default $ALETHEIA_CONFIG or "+config.DefaultPath+")")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "debug logging")

	root.AddCommand(
		newFetchCommand(a),
		newAvailableCommand(a),
		newStatusCommand(a),
		newLsCommand(a),
		newStatCommand(a),
		newPruneCommand(a),
		newHistoryCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)

	return root
}

// init loads the settings and the root logger.
func (a *app) init(cmd *cobra.Command) error {
	var err error

	if a.configPath != "" {
		a.cfg, err = config.LoadFrom(a.configPath)
	} else {
		a.cfg, err = config.LoadConfig()
	}

	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	level := a.cfg.SlogLevel()
	if a.debug {
		level = slog.LevelDebug
	}

	logger, logErr := logctx.New(logctx.Options{
		Level:      level,
		File:       a.cfg.Logging.File,
		MaxSizeMB:  a.cfg.Logging.MaxSizeMB,
		MaxBackups: a.cfg.Logging.MaxBackups,
		Compress:   a.cfg.Logging.Compress,
	})
	slog.SetDefault(logger)
	a.logger = logger

	if logErr != nil {
		logger.Warn("logging to stdout", "err", logErr)
	}

	for _, w := range a.cfg.Warnings {
		logger.Warn("settings file problem", "path", a.cfg.Path, "err", w)
	}

	cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

	return nil
}

// setupTelemetry starts metrics collection. Only the server exposes them, so the
// short lived commands skip it.
func (a *app) setupTelemetry(ctx context.Context) error {
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        a.cfg.Telemetry.Enabled,
		ServiceName:    "aletheia_data",
		ServiceVersion: version,
		OTLPEndpoint:   a.cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.telemetry = tel

	return nil
}

func (a *app) openLedger(ctx context.Context) (*sqlite.InstrumentedFetchRepository, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}

	path, err := config.ExpandHome(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fetch history: %w", err)
	}

	a.db = db
	a.ledger = sqlite.NewInstrumentedFetchRepository(db, a.telemetry)

	return a.ledger, nil
}

func (a *app) ftpTransport() *transfer.FTPTransport {
	if a.ftp == nil {
		a.ftp = transfer.NewFTPTransport(
			transfer.WithFTPTimeout(a.cfg.FTP.Timeout),
			transfer.WithFTPCredentials(a.cfg.FTP.Username, a.cfg.FTP.Password),
		)
	}

	return a.ftp
}

func (a *app) loadRegistry() (*registry.Registry, error) {
	opts := []registry.Option{registry.WithAlgorithm(digest.Algorithm(a.cfg.Algorithm))}

	if a.cfg.RegistryFile != "" {
		path, err := config.ExpandHome(a.cfg.RegistryFile)
		if err != nil {
			return nil, err
		}

		if len(a.cfg.Registry) > 0 {
			a.logger.Warn("registry file set, ignoring inline registry", "registry_file", path)
		}

		return registry.LoadFile(path, opts...)
	}

	if len(a.cfg.Registry) == 0 {
		return nil, fmt.Errorf("no registry configured: set registry_file or registry in %s", a.cfg.Path)
	}

	return registry.New(a.cfg.Registry, opts...)
}

// openCache builds the cache with every collaborator wired in.
func (a *app) openCache(ctx context.Context) (*cache.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}

	reg, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	httpTransport := transfer.NewHTTPTransport(
		transfer.WithHTTPClient(transfer.NewHTTPClient(a.cfg.HTTP.Timeout)),
		transfer.WithChunkSize(a.cfg.HTTP.ChunkSize),
	)

	transports := transfer.NewMux().
		Handle(protocol.HTTP, transfer.NewInstrumentedTransport(httpTransport, a.telemetry, protocol.HTTP.String())).
		Handle(protocol.FTP, transfer.NewInstrumentedTransport(a.ftpTransport(), a.telemetry, protocol.FTP.String()))

	opts := []cache.Option{
		cache.WithURLs(a.cfg.URLs),
		cache.WithAlgorithm(digest.Algorithm(a.cfg.Algorithm)),
		cache.WithEnv(a.cfg.EnvOverride),
		cache.WithTransports(transports),
		cache.WithProgress(progress.LogBarFactory(0)),
		cache.WithLedger(ledger),
		cache.WithTelemetry(a.telemetry),
		cache.WithLogger(a.logger),
	}

	if a.cfg.Version != "" {
		opts = append(opts, cache.WithVersion(a.cfg.Version, a.cfg.VersionDev))
	}

	if a.cfg.DiscordWebhookURL != "" {
		opts = append(opts, cache.WithNotifier(notifier.NewDiscordNotifier(a.cfg.DiscordWebhookURL, nil)))
	}

	c, err := cache.New(a.cfg.CacheDir, a.cfg.BaseURL, reg, opts...)
	if err != nil {
		return nil, err
	}

	a.cache = c

	return c, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error

	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	} else if a.ftp != nil {
		errs = append(errs, a.ftp.Close())
	}

	if a.db != nil {
		errs = append(errs, a.db.Close())
	}

	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
