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
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/metrics"
	"server/internal/orchestrator"
	"server/internal/providers/imagegen"
	"server/internal/providers/textgen"
	"server/internal/queue"
	"server/internal/ratelimit"
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

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	records := repo.NewJobRecordStore(dbpool)
	jobQueue := queue.New(redisClient, records, logger)
	cacheStore := cache.NewStore(redisClient)
	limiter := ratelimit.NewLimiter(redisClient, ratelimit.DefaultWindow, logger)

	publisher, err := events.NewPublisher(cfg.AMQPURL, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("event publisher unavailable, analytics disabled")
		publisher = nil
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	artifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure artifact storage")
	}

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
		logger.Fatal().Err(err).Msg("failed to configure text generation client")
	}
	imageClient, err := imagegen.NewClient(imagegen.Options{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.ImageModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image generation client")
	}

	orc, err := orchestrator.New(orchestrator.Options{
		TextGen:   textClient,
		ImageGen:  imageClient,
		Templates: game.NewStaticProvider(),
		Artifacts: artifacts,
		Cache:     cacheStore,
		Events:    publisher,
		ImageSize: cfg.ImageSize,
		Quality:   cfg.ImageQuality,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	tick, err := worker.New(worker.Options{
		Queue:        jobQueue,
		Generator:    orc,
		Metrics:      collector,
		PollInterval: cfg.WorkerPollEvery,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build worker")
	}

	app := &handlers.App{
		Queue:        jobQueue,
		Ticker:       tick,
		Cache:        cacheStore,
		Limiter:      limiter,
		Events:       publisher,
		Metrics:      collector,
		CronSecret:   cfg.CronSecret,
		RateLimit:    cfg.RateLimitPerMin,
		StaleTimeout: cfg.StaleJobTimeout,
		Logger:       logger,
	}

	router := httpapi.NewRouter(app, registry)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
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
