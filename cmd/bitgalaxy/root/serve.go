package root

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/bitgalaxy/internal/adapters/http/api"
	"github.com/okian/bitgalaxy/internal/adapters/http/swagger"
	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/adapters/repository/sqlite"
	"github.com/okian/bitgalaxy/internal/adapters/session"
	service "github.com/okian/bitgalaxy/internal/app"
	"github.com/okian/bitgalaxy/internal/config"
	"github.com/okian/bitgalaxy/internal/domain/dedupe"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/okian/bitgalaxy/pkg/metrics"
	"github.com/okian/bitgalaxy/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Runs the progression API. Configuration layers defaults, the YAML file " +
			"named by --config or " + config.EnvConfigFile + ", and " + config.EnvPrefix + "* variables.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				if err := os.Setenv(config.EnvConfigFile, configFile); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			log := logger.Get()
			if err := logger.SetLevelString(cfg.LogLevel); err != nil {
				log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
				_ = logger.SetLevelString("info")
			}
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	return cmd
}

// application is the wired process: service, HTTP handler and everything
// that must be released on exit.
type application struct {
	svc     *service.Service
	handler http.Handler
	closers []func(context.Context) error
}

// close releases resources in reverse order of acquisition.
func (a *application) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// build wires every component described by cfg. The returned application
// is not started.
func build(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			_ = app.close(ctx)
		}
	}()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "bitgalaxy",
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, shutdownTracing)

	var (
		players repository.PlayerStore
		catalog repository.QuestCatalog
		sink    repository.AuditSink
	)
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return store.Close() })
		players, catalog = store, store
		if cfg.Audit.Sink == config.AuditSinkStore {
			sink = store
		}
	default:
		store := repository.NewMemoryStore()
		players, catalog = store, store
		if cfg.Audit.Sink == config.AuditSinkStore {
			sink = store
		}
	}
	if sink == nil {
		sink = repository.NewLogSink(log.Named("audit"))
	}

	if cfg.Storage.SeedFile != "" {
		seed, err := repository.LoadSeed(cfg.Storage.SeedFile)
		if err != nil {
			return nil, err
		}
		n, err := seed.Apply(ctx, catalog, time.Now())
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "quest seed applied", logger.String("file", cfg.Storage.SeedFile), logger.Int("created", n))
	}

	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithPlayers(players),
		service.WithCatalog(catalog),
		service.WithAudit(sink),
		service.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.BaseBackoff),
		service.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		service.WithAuditQueueSize(cfg.Audit.QueueSize),
		service.WithAuditWorkers(cfg.Audit.Workers),
		service.WithArcadeDefaults(arcadeDefaults(cfg.Arcade)),
	}
	apiOpts := []api.Option{api.WithLogger(log.Named("http"))}

	if cfg.SessionsEnabled() {
		issuer, err := session.NewIssuer(cfg.Session.Secret,
			session.WithIssuer(cfg.Session.Issuer),
			session.WithTTL(cfg.Session.TTL),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithSessions(issuer))
		apiOpts = append(apiOpts,
			api.WithSessionVerifier(issuer),
			api.WithCookieTTL(issuer.TTL()),
			api.WithSecureCookies(cfg.Session.SecureCookies),
		)
	} else {
		log.Warn(ctx, "session.secret is empty; sessions are disabled")
	}

	app.svc = service.New(opts...)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(app.svc, app.svc, apiOpts...).Register(ctx, mux)
	app.handler = mux

	return app, nil
}

func arcadeDefaults(cfg config.ArcadeConfig) service.ArcadeDefaults {
	out := service.ArcadeDefaults{BaseXP: cfg.DefaultBaseXP, Quests: make(map[string]service.ArcadeQuest, len(cfg.Quests))}
	for id, q := range cfg.Quests {
		out.Quests[id] = service.ArcadeQuest{
			Title:           q.Title,
			Description:     q.Description,
			XP:              q.XP,
			ScoreThresholds: q.ScoreThresholds,
		}
	}
	return out
}

// serve runs the API until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.close(closeCtx); err != nil {
			log.Error(closeCtx, "release resources failed", logger.Error(err))
		}
	}()

	if err := app.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer app.svc.Stop()

	go startServiceMetricsUpdater(ctx, app.svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return nil
}

// startServiceMetricsUpdater refreshes service gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateServiceMetrics(svc *service.Service) {
	// GetStats refreshes the audit queue gauge itself.
	stats := svc.GetStats()
	if workers, ok := stats["auditWorkers"].(int); ok {
		metrics.UpdateAuditWorkers(workers)
	}
}
