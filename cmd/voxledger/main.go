// Command voxledger is the main entry point for the voxledger document
// transform server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/config"
	"github.com/voxledger/voxledger/internal/health"
	"github.com/voxledger/voxledger/internal/observe"
	"github.com/voxledger/voxledger/internal/resolve"
	"github.com/voxledger/voxledger/internal/server"
	"github.com/voxledger/voxledger/internal/similarity"
	"github.com/voxledger/voxledger/internal/transform"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags + environment ───────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A local .env is optional; absence is not an error.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxledger: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxledger: %v\n", err)
		}
		return 1
	}
	if dsn := os.Getenv("VOXLEDGER_POSTGRES_DSN"); dsn != "" {
		cfg.Database.PostgresDSN = dsn
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxledger starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(nil)
	if err != nil {
		slog.Error("failed to create metric instruments", "err", err)
		return 1
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	store, dbChecker, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Engine + HTTP surface ─────────────────────────────────────────────────
	scorer := similarity.New(scorerOptions(cfg)...)
	resolver := resolve.NewResolver(store, scorer)
	locator := resolve.NewLocator(resolver, store)
	engine := transform.New(store, store, transform.WithMetrics(metrics))

	srv := server.New(resolver, locator, engine,
		server.WithMetrics(metrics),
		server.WithHealth(health.New(dbChecker)),
		server.WithRequestTimeout(cfg.Transform.RequestTimeout.Std()),
		server.WithSuggestionLimit(cfg.Matching.SuggestionLimit),
	)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildStore selects the Postgres store when a DSN is configured and the
// in-memory store otherwise. The returned checker backs the readiness probe.
func buildStore(ctx context.Context, cfg *config.Config) (billing.Store, health.Checker, func(), error) {
	dsn := cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Warn("running with the in-memory store; data will not survive restarts")
		return billing.NewMemStore(), health.Static("store", nil), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, health.Checker{}, nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := billing.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, health.Checker{}, nil, err
	}
	slog.Info("postgres store ready")

	return store, health.Database(store), pool.Close, nil
}

// scorerOptions maps the matching config onto scorer options.
func scorerOptions(cfg *config.Config) []similarity.Option {
	var opts []similarity.Option
	if cfg.Matching.LexicalWeight > 0 || cfg.Matching.PhoneticWeight > 0 {
		opts = append(opts, similarity.WithWeights(cfg.Matching.LexicalWeight, cfg.Matching.PhoneticWeight))
	}
	return opts
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
