package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/config"
	dbredis "github.com/scholarlabs/citedex/internal/db/redis"
	"github.com/scholarlabs/citedex/internal/domain"
	logpkg "github.com/scholarlabs/citedex/internal/logger"
	"github.com/scholarlabs/citedex/internal/metrics"
	chunkrepo "github.com/scholarlabs/citedex/internal/repository/chunk"
	"github.com/scholarlabs/citedex/internal/repository/embcache"
	sourcerepo "github.com/scholarlabs/citedex/internal/repository/source"
	uploadrepo "github.com/scholarlabs/citedex/internal/repository/upload"
	"github.com/scholarlabs/citedex/internal/retry"
	chitransport "github.com/scholarlabs/citedex/internal/transport/chi"
	"github.com/scholarlabs/citedex/internal/transport/mock"
	openaitransport "github.com/scholarlabs/citedex/internal/transport/openai"
	healthuc "github.com/scholarlabs/citedex/internal/usecase/health"
	ingestuc "github.com/scholarlabs/citedex/internal/usecase/ingest"
	retrieveuc "github.com/scholarlabs/citedex/internal/usecase/retrieve"
	"github.com/scholarlabs/citedex/internal/version"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting citedex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbredis.NewStore(dbredis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Store not ready", zap.Error(err))
	}
	logger.Info("Connected to store")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// Provider selection happens once here, not per call: no credentials
	// means the deterministic offline providers.
	embedder, embedderName := buildEmbedder(cfg, logger)
	completer, completerName := buildCompleter(cfg, logger)
	logger.Info("Providers created",
		zap.String("embedder", embedderName),
		zap.String("completer", completerName),
	)

	healthChecker := embedderHealth(embedder)

	if cfg.Embedding.CacheEnabled {
		cacheModel := cfg.Embedding.Model
		if cfg.Embedding.APIKey == "" {
			cacheModel = mock.EmbedderModelID
		}
		embedder = embcache.New(embedder, store, cacheModel, metrics.EmbeddingCacheTotal, logger)
		logger.Info("Embedding cache enabled", zap.String("model", cacheModel))
	}

	sources := sourcerepo.New(store)
	chunks := chunkrepo.New(store, cfg.Storage.MaxBatchOps)
	uploads := uploadrepo.New(store, time.Duration(cfg.Ingestion.UploadTTLHours)*time.Hour)

	policy := retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier: cfg.Retry.Multiplier,
		Retryable: []domain.ErrorKind{
			domain.KindEmbeddingQuotaExceeded,
			domain.KindEmbeddingUnavailable,
			domain.KindPersistenceBatchFailed,
		},
	}

	batchPause := time.Duration(cfg.Embedding.BatchPauseMs) * time.Millisecond
	if cfg.Embedding.APIKey == "" {
		batchPause = 0
	}

	ingestSvc := ingestuc.New(sources, chunks, uploads, embedder, completer, ingestuc.Config{
		TokenBudget:    cfg.Ingestion.ChunkTokenBudget,
		EmbedBatchSize: cfg.Embedding.BatchSize,
		BatchPause:     batchPause,
		Retry:          policy,
	}, logger)

	retrieveSvc := retrieveuc.New(chunks, sources, embedder, domain.Weights{
		Similarity:  cfg.Retrieval.Weights.Similarity,
		Recency:     cfg.Retrieval.Weights.Recency,
		Reliability: cfg.Retrieval.Weights.Reliability,
		Context:     cfg.Retrieval.Weights.Context,
		Diversity:   cfg.Retrieval.Weights.Diversity,
	}, policy, logger)

	healthSvc := healthuc.New(store, healthChecker)

	server := chitransport.NewServer(
		sources, uploads, ingestSvc, retrieveSvc, healthSvc, completer,
		cfg.Auth.APIKeys, logger,
		func() int64 { return time.Now().Unix() },
	)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func buildEmbedder(cfg config.Config, logger *zap.Logger) (domain.BatchEmbedder, string) {
	if cfg.Embedding.APIKey == "" {
		return mock.NewEmbedder(cfg.Embedding.Dimensions), mock.EmbedderModelID
	}
	provider := cfg.Embedding.Provider
	if provider == "" {
		provider = "openai"
	}
	return openaitransport.NewEmbedder(&openaitransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   provider,
		Logger:     logger,
	}), provider + "/" + cfg.Embedding.Model
}

func buildCompleter(cfg config.Config, logger *zap.Logger) (domain.Completer, string) {
	if cfg.Completion.APIKey == "" {
		return mock.NewCompleter(), mock.CompleterModelID
	}
	provider := cfg.Completion.Provider
	if provider == "" {
		provider = "openai"
	}
	baseURL := cfg.Completion.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return openaitransport.NewCompleter(&openaitransport.CompleterConfig{
		APIKey:   cfg.Completion.APIKey,
		BaseURL:  baseURL,
		Model:    cfg.Completion.Model,
		Provider: provider,
		Timeout:  time.Duration(cfg.Completion.TimeoutSec) * time.Second,
		Logger:   logger,
	}), provider + "/" + cfg.Completion.Model
}

// embedderHealth returns the provider's health check when it exposes one.
// Called on the raw provider before the cache decorator wraps it.
func embedderHealth(embedder domain.BatchEmbedder) healthuc.EmbeddingChecker {
	if checker, ok := embedder.(healthuc.EmbeddingChecker); ok {
		return checker
	}
	return nil
}
