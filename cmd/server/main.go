/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the underwriting back-office server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, .env, UNDERWRITING_* env)
  2. Build the zap logger
  3. Open SQLite (entities) and, when configured, Postgres (audit)
  4. Connect to Redis (refresh tokens)
  5. Wire services and bootstrap the admin user
  6. Run HTTP server, audit worker and allocation sweeper under an errgroup

COMMAND-LINE FLAGS:
  -config  Path to a config file (default: search ./configs and .)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the sweeper and drain the audit queue
  4. Close database connections

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/reinsurance-engine/api"
	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/auth"
	"github.com/warp/reinsurance-engine/claim"
	"github.com/warp/reinsurance-engine/config"
	"github.com/warp/reinsurance-engine/logging"
	"github.com/warp/reinsurance-engine/metrics"
	"github.com/warp/reinsurance-engine/policy"
	"github.com/warp/reinsurance-engine/reinsurance"
	"github.com/warp/reinsurance-engine/reporting"
	"github.com/warp/reinsurance-engine/store/postgres"
	"github.com/warp/reinsurance-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer store.Close()

	var auditStore audit.Store = store
	health := []api.Pinger{store}
	if cfg.Audit.PostgresDSN != "" {
		pg, err := postgres.Open(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			return fmt.Errorf("init audit database: %w", err)
		}
		defer pg.Close()
		auditStore = pg
		health = append(health, pg)
		logger.Info("audit log stored in postgres")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	health = append(health, redisPinger{rdb})

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	notifier := audit.NewNotifier(auditStore,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithLogger(logger),
		audit.WithMetrics(m))

	engine := reinsurance.NewEngine(store,
		reinsurance.WithAuditSink(notifier),
		reinsurance.WithLogger(logger),
		reinsurance.WithMetrics(m))

	authSvc := auth.NewService(store,
		auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL),
		auth.NewRedisRefreshStore(rdb),
		cfg.Auth.RefreshTTL,
		notifier,
		logger)
	if _, err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	sweeper := reinsurance.NewSweeper(store, engine, logger, m)
	sweeper.Enabled = cfg.Sweeper.Enabled
	sweeper.Interval = cfg.Sweeper.Interval

	h := api.NewHandler(logger)
	h.Auth = authSvc
	h.Policies = policy.NewManager(store, engine,
		policy.WithAuditSink(notifier),
		policy.WithLogger(logger),
		policy.WithMetrics(m))
	h.Claims = claim.NewManager(store,
		claim.WithAuditSink(notifier),
		claim.WithLogger(logger),
		claim.WithMetrics(m))
	h.Engine = engine
	h.Treaties = reinsurance.NewTreatyService(store, notifier, logger)
	h.Reinsurers = reinsurance.NewReinsurerService(store, notifier, logger)
	h.Allocations = store
	h.Reports = reporting.NewService(store)
	h.Audit = notifier
	h.Health = health

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(h, api.RouterConfig{
			AllowedOrigins: cfg.Server.CORSOrigins,
			Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return notifier.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
