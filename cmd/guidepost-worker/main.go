package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	api "github.com/guidepost-ai/guidepost/internal/api/openai"
	"github.com/guidepost-ai/guidepost/internal/consumer"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
	generator "github.com/guidepost-ai/guidepost/internal/generator/openai"
	"github.com/guidepost-ai/guidepost/internal/pkg/config"
	"github.com/guidepost-ai/guidepost/internal/prompt"
	"github.com/guidepost-ai/guidepost/internal/redisx"
	"github.com/guidepost-ai/guidepost/internal/storage/sqlite"
	"github.com/guidepost-ai/guidepost/internal/telemetry"
	"github.com/guidepost-ai/guidepost/internal/webhook"
	"github.com/guidepost-ai/guidepost/internal/workflow"
)

const promptTokenBudget = 6000

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("guidepost-worker", logger)
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
	if cfg.OpenAI.APIKey == "" {
		log.Fatal("openai.api_key is required for the worker")
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	store, err := sqlite.New(cfg.Storage.SQLite.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	consumerName := cfg.Consumer.Name
	if consumerName == "" {
		host, _ := os.Hostname()
		consumerName = "worker-" + host
	}

	eventLog := redisx.NewStreamLog(redisClient, cfg.Redis.Stream, cfg.Redis.Group, consumerName)
	sessions := redisx.NewSessionStore(redisClient)
	counters := redisx.NewCounterStore(redisClient)
	publisher := redisx.NewPublisher(redisClient)

	prompts, err := prompt.NewBuilder(promptTokenBudget)
	if err != nil {
		log.Fatalf("Failed to initialize prompt builder: %v", err)
	}

	var clientOpts []api.ClientOption
	if cfg.OpenAI.BaseURL != "" {
		clientOpts = append(clientOpts, api.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	gen := generator.New(api.NewClient(cfg.OpenAI.APIKey, clientOpts...), cfg.OpenAI.Model)

	var notifier ports.AlertNotifier
	if cfg.Webhook.URL != "" {
		notifier = webhook.New(cfg.Webhook.URL)
	}

	engine := workflow.NewOnboardingEngine(
		workflow.NewDiagnoseStage(gen, prompts, 0, logger),
		workflow.NewCoachStage(gen, prompts, 0, logger),
		workflow.NewDeliverStage(store, counters, publisher, logger),
		workflow.NewEscalateStage(gen, prompts, store, notifier, 0, logger),
		logger,
	)

	c := consumer.New(eventLog, sessions, store, engine, logger, consumer.Config{
		BatchSize: cfg.Consumer.BatchSize,
		Block:     cfg.Consumer.Block(),
		Backoff:   cfg.Consumer.Backoff(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received, stopping worker...")
		cancel()
	}()

	logger.Info("worker starting",
		slog.String("consumer", consumerName),
		slog.String("model", cfg.OpenAI.Model))

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
