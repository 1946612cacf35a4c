package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidexp/retrieval-engine/config"
	"github.com/tidexp/retrieval-engine/internal/observability"
	"github.com/tidexp/retrieval-engine/middleware"
	"github.com/tidexp/retrieval-engine/repositories"
	"github.com/tidexp/retrieval-engine/repositories/memory"
	"github.com/tidexp/retrieval-engine/repositories/postgres"
	"github.com/tidexp/retrieval-engine/repositories/sqlite"
	"github.com/tidexp/retrieval-engine/services/chunks"
	"github.com/tidexp/retrieval-engine/services/embedding"
	"github.com/tidexp/retrieval-engine/services/ingest"
	"github.com/tidexp/retrieval-engine/services/retrieval"
	"go.uber.org/zap"
)

// cacheCleanupInterval is how often expired embedding cache entries are swept
const cacheCleanupInterval = 5 * time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Store   repositories.Store
	Metrics observability.Metrics

	// Embedding provider with its cache and rate limiter
	Embedder embedding.Embedder

	// Services
	Chunks    *chunks.Service
	Retrieval *retrieval.Service
	Ingest    *ingest.Service

	// Auth is nil when no token secret is configured
	AuthMiddleware *middleware.AuthMiddleware

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	metrics := newMetrics(cfg, logger)

	embedder, err := embedding.NewFromConfig(ctx, cfg.Embedding, metrics, logger.Named("embedding"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	deps, err := newDependencies(cfg, store, embedder, metrics, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// NewDependenciesWithStore wires the services over an already opened store and embedder
func NewDependenciesWithStore(cfg *config.Config, store repositories.Store, embedder embedding.Embedder, logger *zap.Logger) (*Dependencies, error) {
	return newDependencies(cfg, store, embedder, newMetrics(cfg, logger), logger)
}

func newDependencies(cfg *config.Config, store repositories.Store, embedder embedding.Embedder, metrics observability.Metrics, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Metrics:     metrics,
		Embedder:    embedder,
		stopCleanup: make(chan struct{}),
	}

	deps.initServices(cfg)

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if cache, ok := embedder.(*embedding.CachingEmbedder); ok {
		go cache.StartCleanupWorker(cacheCleanupInterval, deps.stopCleanup)
	}

	return deps, nil
}

// openStore opens the chunk store selected by DB_DRIVER
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg.Database, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to create repository factory: %w", err)
		}

		if err := factory.HealthCheck(ctx); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}

		if cfg.Storage.InitSchema {
			if err := factory.InitSchema(ctx); err != nil {
				_ = factory.Close()
				return nil, fmt.Errorf("failed to initialize schema: %w", err)
			}
		}

		logger.Info("database connection established",
			zap.String("connection", cfg.Database.LogString()))
		return factory, nil

	case config.DriverSQLite:
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath, logger.Named("sqlite"))
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.Storage.SQLitePath))
		return store, nil

	case config.DriverMemory:
		logger.Warn("using in-memory chunk store; data is lost on restart")
		return memory.NewStore(logger.Named("memory")), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func newMetrics(cfg *config.Config, logger *zap.Logger) observability.Metrics {
	if !cfg.Observability.MetricsEnabled {
		return observability.NopMetrics{}
	}
	return observability.NewLogMetrics(logger)
}

// initServices creates the chunk store, retrieval and ingestion services
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Chunks = chunks.NewService(
		d.Store.Chunks(),
		d.Store.TransactionManager(),
		cfg.Storage.BatchSize,
		d.Metrics,
		d.Logger.Named("chunks"),
	)

	d.Retrieval = retrieval.NewService(
		d.Embedder,
		d.Chunks,
		retrieval.Options{
			DefaultTopK:      cfg.Retrieval.DefaultTopK,
			DefaultThreshold: cfg.Retrieval.DefaultThreshold,
			MaxTopK:          cfg.Retrieval.MaxTopK,
			Attribution:      cfg.Retrieval.ContextAttribution,
		},
		d.Metrics,
		d.Logger.Named("retrieval"),
	)

	d.Ingest = ingest.NewService(
		ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		d.Embedder,
		d.Chunks,
		d.Logger.Named("ingest"),
	)

	d.Logger.Info("services initialized",
		zap.Int("batch_size", d.Chunks.BatchSize()),
		zap.Int("default_top_k", cfg.Retrieval.DefaultTopK),
		zap.Float64("default_threshold", cfg.Retrieval.DefaultThreshold))
}

// initAuth enables service token verification when a secret is configured
func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, API routes are unauthenticated")
		return nil
	}

	validator, err := middleware.NewHMACTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger.Named("auth"))
	d.Logger.Info("service token verification enabled",
		zap.String("issuer", cfg.Auth.JWTIssuer))
	return nil
}

// Close gracefully shuts down all dependencies. It is safe to call more than once.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")

		if d.stopCleanup != nil {
			close(d.stopCleanup)
		}

		if d.Store != nil {
			if err := d.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close store: %w", err))
			} else {
				d.Logger.Info("store closed")
			}
		}

		_ = d.Logger.Sync()
	})

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}
