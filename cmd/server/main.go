package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "collabcode/internal/app"
	httpx "collabcode/internal/http"
	roompkg "collabcode/internal/room"
	store "collabcode/internal/store"
	ws "collabcode/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres is the persistence collaborator; losing it degrades to
	// in-memory-only rooms, it never stops the coordinator.
	var st roompkg.Store
	if cfg.PGURL != "" {
		pg, err := store.NewPostgres(ctx, cfg, logger)
		if err != nil {
			logger.Error("postgres.connect", "err", err)
		} else {
			defer pg.Close()
			if err := store.RunMigrations(ctx, pg, logger); err != nil {
				logger.Error("postgres.migrate", "err", err)
			} else {
				st = pg
			}
		}
	}
	if st == nil {
		logger.Warn("store.disabled", "reason", "no usable PG_URL, rooms are memory-only")
	}

	// Optional redis event mirror for external consumers
	var mirror roompkg.Mirror
	if cfg.RedisAddr != "" {
		rm, err := ws.NewRedisMirror(ctx, cfg, logger)
		if err != nil {
			logger.Error("redis.connect", "err", err)
		} else {
			defer rm.Close()
			mirror = rm
		}
	}

	// Room core + websocket hub
	reg := roompkg.NewRegistry(logger, st)
	disp := roompkg.NewDispatcher(logger, mirror)
	hub := ws.NewHub(logger, reg, disp)

	// HTTP + WS router
	router := httpx.NewRouter(cfg, hub, reg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}
