package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cashfity/pkg/cart"
	"cashfity/pkg/catalog"
	"cashfity/pkg/httpapi"
	"cashfity/pkg/intake"
	"cashfity/pkg/notify"
	"cashfity/pkg/storage"
	"cashfity/pkg/version"
)

// Run parses args and serves until ctx is cancelled. A nil logger is built from the configured level.
func Run(ctx context.Context, args []string, logger *zap.Logger) error {
	if args == nil {
		args = []string{}
	}
	cmd := NewRootCommand(logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type rootOptions struct {
	configPath  string
	showVersion bool
	port        int
	domain      string
	dbType      string
	dbPath      string
	catalog     string
	logLevel    string
}

// NewRootCommand builds the cashfity command. Flags only override the config when set explicitly.
func NewRootCommand(logger *zap.Logger) *cobra.Command {
	cmd, _ := newRootCommand(logger)
	return cmd
}

func newRootCommand(logger *zap.Logger) (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	defaults := DefaultConfig()

	cmd := &cobra.Command{
		Use:           "cashfity",
		Short:         "Cashfity device storefront",
		Long:          "Serves the device catalog, per-session carts, and the sell, repair, and donate forms.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "cashfity version %s\n", version.Version())
				return nil
			}
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			log := logger
			if log == nil {
				log, err = newLogger(cfg.LogLevel)
				if err != nil {
					return err
				}
				defer log.Sync()
			}
			return serve(cmd.Context(), cfg, log)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	flags.BoolVar(&opts.showVersion, "version", false, "Show the application version")
	flags.IntVar(&opts.port, "port", defaults.Port, "Port for the HTTP server when not using --domain")
	flags.StringVar(&opts.domain, "domain", "", "Serve HTTPS on 80/443 with an ephemeral certificate for this domain")
	flags.StringVar(&opts.dbType, "db-type", defaults.Storage.Type, "Cart storage driver: sqlite or memory")
	flags.StringVar(&opts.dbPath, "db-path", "", "Database file; sqlite defaults to the working directory, memory keeps nothing on disk when empty")
	flags.StringVar(&opts.catalog, "catalog", defaults.Catalog, "Catalog file path or http(s) URL")
	flags.StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	return cmd, opts
}

// resolveConfig layers explicitly set flags over the file and environment.
func resolveConfig(cmd *cobra.Command, opts *rootOptions) (Config, error) {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("domain") {
		cfg.Domain = opts.domain
	}
	if flags.Changed("db-type") {
		cfg.Storage.Type = opts.dbType
	}
	if flags.Changed("db-path") {
		cfg.Storage.Path = opts.dbPath
	}
	if flags.Changed("catalog") {
		cfg.Catalog = opts.catalog
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger.Named("cashfity"), nil
}

// serve composes storage, the storefront services, and the HTTP server.
func serve(ctx context.Context, cfg Config, logger *zap.Logger) error {
	db, cleanupDriver, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer cleanupDriver()
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		return errors.Wrap(err, "ensure schema")
	}

	catalogService := catalog.NewService(logger.Named("catalog"))
	defer catalogService.Close()

	cartService := cart.NewService(cart.NewRepository(storage.NewKV(db), logger.Named("cart")), catalogService, logger.Named("cart"))
	defer cartService.Close()

	intakeService := intake.NewService(logger.Named("intake"))
	defer intakeService.Close()

	notifyService := notify.NewService(time.Second)
	defer notifyService.Close()

	// The catalog loads once in the background; requests served before it
	// lands see an empty storefront.
	var loading sync.WaitGroup
	defer loading.Wait()
	loadCtx, cancelLoad := context.WithCancel(ctx)
	defer cancelLoad()
	loading.Add(1)
	go func() {
		defer loading.Done()
		catalogService.Load(loadCtx, catalog.NewSource(cfg.Catalog, nil))
	}()

	srv, err := httpapi.New(catalogService, cartService, intakeService, notifyService, logger.Named("http"))
	if err != nil {
		return errors.Wrap(err, "build http server")
	}

	if cfg.Domain != "" {
		logger.Info("starting HTTPS servers", zap.String("domain", cfg.Domain))
		return runDomainServers(ctx, cfg.Domain, srv, logger)
	}

	server := &http.Server{
		Addr:         cfg.address(),
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("cashfity is running",
		zap.String("addr", listener.Addr().String()),
		zap.String("storage", cfg.Storage.Type),
		zap.String("catalog", cfg.Catalog),
	)
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server stopped unexpectedly")
	}
	<-stopped
	return nil
}
