// Package main is the entrypoint for the scribe transcription API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/scribe/internal/api"
	"github.com/kiranshivaraju/scribe/internal/api/handler"
	mw "github.com/kiranshivaraju/scribe/internal/api/middleware"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/internal/cache"
	"github.com/kiranshivaraju/scribe/internal/config"
	"github.com/kiranshivaraju/scribe/internal/store"
	"github.com/kiranshivaraju/scribe/internal/transcription"
	"github.com/kiranshivaraju/scribe/internal/upload"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; invalid values fail fast
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "store_driver", cfg.Store.Driver, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open job and key storage
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Build the orchestrator and settle jobs a previous process left behind
	orch := transcription.New(st,
		transcription.NewExecRunner(slog.Default(), nil),
		transcription.NewRegistry(0),
		transcription.Config{
			Executable:    cfg.Engine.Executable,
			Script:        cfg.Engine.Script,
			OutputDir:     cfg.Jobs.OutputDir,
			MaxConcurrent: cfg.Jobs.MaxConcurrent,
		},
		slog.Default())

	interrupted, err := orch.FailInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if interrupted > 0 {
		slog.Warn("marked interrupted jobs as failed", "count", interrupted)
	}

	if cfg.Auth.AdminAPIKey != "" {
		if err := mw.EnsureAPIKey(ctx, st, cfg.Auth.AdminAPIKey, cfg.Auth.AdminOwner,
			"bootstrap-admin", []string{mw.ScopeAdmin}); err != nil {
			return fmt.Errorf("seed admin api key: %w", err)
		}
		slog.Info("admin api key ready", "owner", cfg.Auth.AdminOwner)
	}

	// 5. Build router with dependencies
	results := transcription.NewResultLocator(redisCache, cfg.Jobs.ResultTTL)
	files := upload.NewSaver(cfg.Jobs.UploadDir)
	auth := mw.NewAuth(st)

	deps := api.Dependencies{
		Auth:           auth,
		RateLimit:      mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMin),
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,

		HealthHandler:         healthHandler(st, redisCache),
		TranscribeHandler:     handler.NewTranscribeHandler(orch, files),
		TranscribeLinkHandler: handler.NewTranscribeLinkHandler(orch),
		StatusHandler:         handler.NewStatusHandler(orch, results),
		EventsHandler:         handler.NewEventsHandler(orch, cfg.Jobs.SSETimeout),
		DownloadHandler:       handler.NewDownloadHandler(orch, results),
		HistoryHandler:        handler.NewHistoryHandler(st),
		CreateKeyHandler:      handler.NewCreateKeyHandler(st),
	}

	// 6. Serve until a signal arrives, then drain HTTP and running jobs
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Jobs.DrainTimeout)
		defer cancelDrain()
		if err := orch.Wait(drainCtx); err != nil {
			// Whatever is still running will be failed on next start.
			slog.Warn("jobs still running at exit", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects the configured backend. Postgres schemas are migrated first.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverBadger:
		st, err := store.OpenBadgerStore(cfg.Badger.Dir)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		slog.Info("badger store opened", "dir", cfg.Badger.Dir)
		return st, nil
	default:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool), nil
	}
}

// healthHandler checks store and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"store": "ok",
			"cache": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["store"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["store"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
