package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/pkg/config"
	"github.com/guidepost-ai/guidepost/internal/redisx"
	"github.com/guidepost-ai/guidepost/internal/server"
	"github.com/guidepost-ai/guidepost/internal/storage/memory"
	"github.com/guidepost-ai/guidepost/internal/storage/sqlite"
	"github.com/guidepost-ai/guidepost/internal/telemetry"
	"github.com/guidepost-ai/guidepost/internal/ws"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("guidepost", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	var store ports.Store
	switch cfg.Storage.Type {
	case "memory":
		store = memory.New()
	default:
		store, err = sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
	}
	defer store.Close()

	eventLog := redisx.NewStreamLog(redisClient, cfg.Redis.Stream, cfg.Redis.Group, "")
	sessions := redisx.NewSessionStore(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fan nudges published by the workers into live websocket
	// connections.
	hub := ws.NewHub(logger)
	subscriber := redisx.NewSubscriber(redisClient)
	go func() {
		err := subscriber.Run(ctx, func(m redisx.Message) {
			if !hub.Send(m.UserID, m.Payload) {
				logger.Debug("nudge dropped, user not connected",
					slog.String("user_id", m.UserID))
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("nudge subscriber stopped", slog.String("error", err.Error()))
		}
	}()

	srv := server.New(cfg.Server.Port, logger, store, eventLog, sessions, hub)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", srv.Port),
		Handler: srv.Router,
	}

	go func() {
		logger.Info("starting server", slog.Int("port", srv.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
