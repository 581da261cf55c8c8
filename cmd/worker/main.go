package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"server/internal/adapter/repo"
	"server/internal/cache"
	"server/internal/domain"
	"server/internal/events"
	"server/internal/game"
	"server/internal/infra"
	"server/internal/metrics"
	"server/internal/orchestrator"
	"server/internal/providers/imagegen"
	"server/internal/providers/textgen"
	"server/internal/queue"
	"server/internal/storage"
	"server/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer redisClient.Close()

	records := repo.NewJobRecordStore(dbpool)
	jobQueue := queue.New(redisClient, records, logger)

	publisher, err := events.NewPublisher(cfg.AMQPURL, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: event publisher unavailable, analytics disabled")
		publisher = nil
	}

	artifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())

	textClient, err := textgen.NewClient(textgen.Options{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		BaseURL:     cfg.OpenAIBaseURL,
		HTTPClient:  &http.Client{Timeout: cfg.GenerationBudget},
		MaxAttempts: cfg.MaxGenAttempts,
		OnRetry:     collector.GenerationRetries.Inc,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure text generation client")
	}
	imageClient, err := imagegen.NewClient(imagegen.Options{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.ImageModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure image generation client")
	}

	orc, err := orchestrator.New(orchestrator.Options{
		TextGen:   textClient,
		ImageGen:  imageClient,
		Templates: game.NewStaticProvider(),
		Artifacts: artifacts,
		Cache:     cache.NewStore(redisClient),
		Events:    publisher,
		ImageSize: cfg.ImageSize,
		Quality:   cfg.ImageQuality,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build orchestrator")
	}

	w, err := worker.New(worker.Options{
		Queue:        jobQueue,
		Generator:    orc,
		Metrics:      collector,
		PollInterval: cfg.WorkerPollEvery,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build worker")
	}

	w.Run(ctx)
	logger.Info().Msg("worker: stopped")
}

func buildArtifactStore(ctx context.Context, cfg *infra.Config) (domain.ArtifactStore, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath)
}
