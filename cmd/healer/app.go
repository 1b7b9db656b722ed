package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/healforge/healer/internal/config"
	"github.com/healforge/healer/internal/embeddings"
	"github.com/healforge/healer/internal/googleai"
	"github.com/healforge/healer/internal/observability"
	"github.com/healforge/healer/internal/openai"
	"github.com/healforge/healer/internal/repository"
	"github.com/healforge/healer/internal/service"
	"github.com/healforge/healer/internal/testrunner"
	"github.com/healforge/healer/pkg/database"
)

var (
	errUnsupportedEmbeddingProvider = errors.New("unsupported embedding provider")
	errReasonerNotConfigured        = errors.New("REASONER_API_KEY (or OPENAI_API_KEY) is required to heal tests")
)

const (
	sqliteFile   = "vectors.db"
	snapshotsDir = "snapshots"
	analyticsDir = "analytics"
)

// vectorStore is a VectorRepository that owns a connection.
type vectorStore interface {
	service.VectorRepository
	Close() error
}

// App holds the healer's dependencies. Observability, the commit gate and analytics are built
// by NewApp; the vector-backed memories are opened on first use by openMemory.
type App struct {
	cfg            *config.Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
	retry          *service.RetryPolicy
	gate           *service.CommitGate
	analytics      *service.RunAnalytics

	store    vectorStore
	index    *service.VectorIndex
	cache    *service.ClassificationCache
	kb       *service.HealingKB
	dedup    *service.TestDeduplicator
	detector *service.ChangeDetector
}

// setupMetrics creates meter provider and healer metrics when metrics are enabled.
// When NewMeterProvider returns nil (unsupported or disabled exporter), returns (nil, nil, nil) (metrics disabled).
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, *observability.Metrics, error) {
	mp, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("healer"))
	if err != nil {
		err2 := observability.ShutdownMeterProvider(context.Background(), mp)
		if err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, metrics, nil
}

// NewApp builds observability and the file-backed components.
func NewApp(cfg *config.Config) (*App, error) {
	var (
		err           error
		meterProvider *sdkmetric.MeterProvider
		metrics       *observability.Metrics
	)

	if cfg.MetricsExporter == "" {
		slog.Debug("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metrics, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	var tracerProvider *sdktrace.TracerProvider

	if cfg.TracesExporter == "" {
		slog.Debug("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			if meterProvider != nil {
				if err2 := observability.ShutdownMeterProvider(context.Background(), meterProvider); err2 != nil {
					slog.Error("shutdown meter provider after tracer provider error", "error", err2)
				}
			}

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	app := &App{
		cfg:            cfg,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}

	app.retry = service.NewRetryPolicy(service.RetryPolicyConfig{
		MaxAttempts:    cfg.RetryAttempts,
		InitialBackoff: cfg.RetryMinWait,
		MaxBackoff:     cfg.RetryMaxWait,
		OnRetry: func(ctx context.Context, op string, attempt int, err error) {
			slog.WarnContext(ctx, "retry: operation failed, backing off", "op", op, "attempt", attempt, "error", err)
		},
	})
	app.gate = service.NewCommitGate(app.healingMetrics(), nil)
	app.analytics = service.NewRunAnalytics(
		repository.NewRunMetricsRepository(filepath.Join(cfg.DataDir, analyticsDir)), cfg.AnalyticsMaxRuns, nil)

	return app, nil
}

func (a *App) healingMetrics() observability.HealingMetrics {
	if a.metrics == nil {
		return nil
	}

	return a.metrics.Healing
}

func (a *App) memoryMetrics() observability.MemoryMetrics {
	if a.metrics == nil {
		return nil
	}

	return a.metrics.Memory
}

func (a *App) reasonerMetrics() observability.ReasonerMetrics {
	if a.metrics == nil {
		return nil
	}

	return a.metrics.Reasoner
}

func (a *App) cacheMetrics() observability.CacheMetrics {
	if a.metrics == nil {
		return nil
	}

	return a.metrics.Cache
}

// openMemory opens the vector store and builds the similarity memories and the change detector.
// It is a no-op once the memories are open.
func (a *App) openMemory(ctx context.Context) error {
	if a.index != nil {
		return nil
	}

	embedder, err := newEmbedder(ctx, a.cfg, a.cacheMetrics())
	if err != nil {
		return err
	}

	store, err := openVectorStore(ctx, a.cfg)
	if err != nil {
		return err
	}

	a.store = store
	a.index = service.NewVectorIndex(store, embedder, nil)

	params := service.MemoryParams{
		Index:      a.index,
		Thresholds: a.cfg.Thresholds,
		Retry:      a.retry,
		Metrics:    a.memoryMetrics(),
	}
	a.cache = service.NewClassificationCache(params)
	a.kb = service.NewHealingKB(params)
	a.dedup = service.NewTestDeduplicator(params)
	a.detector = service.NewChangeDetector(service.ChangeDetectorParams{
		Store: repository.NewSnapshotFileRepository(filepath.Join(a.cfg.DataDir, snapshotsDir)),
		Index: a.index,
	})

	slog.DebugContext(ctx, "memory opened",
		"backend", a.cfg.VectorBackend,
		"embedding_provider", embedder.Name(),
	)

	return nil
}

// newEmbedder returns the configured embedding client behind an LRU cache.
func newEmbedder(ctx context.Context, cfg *config.Config, cacheMetrics observability.CacheMetrics) (*embeddings.Provider, error) {
	var client embeddings.Client

	switch cfg.EmbeddingProvider {
	case config.EmbeddingLocal:
		client = embeddings.NewHashingClient(cfg.EmbeddingDimensions)
	case config.EmbeddingOpenAI:
		client = openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
		)
	case config.EmbeddingGoogle:
		gc, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		client = gc
	case config.EmbeddingOllama:
		client = embeddings.NewOllamaClient(
			embeddings.WithOllamaURL(cfg.OllamaURL),
			embeddings.WithOllamaModel(cfg.EmbeddingModel),
		)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}

	cached, err := embeddings.NewCachingClient(client, cfg.EmbeddingCacheSize, cacheMetrics)
	if err != nil {
		return nil, err
	}

	return embeddings.NewProvider(cfg.EmbeddingProvider, cached), nil
}

// openVectorStore opens the configured vector backend, migrating the Postgres schema when needed.
func openVectorStore(ctx context.Context, cfg *config.Config) (vectorStore, error) {
	switch cfg.VectorBackend {
	case config.BackendPostgres:
		//nolint:gosec // G115: DATABASE_MAX_CONNS is validated to [0, 1000] by config
		pool, err := database.NewVectorPool(ctx, cfg.DatabaseURL, database.WithMaxConns(int32(cfg.DatabaseMaxConns)))
		if err != nil {
			return nil, fmt.Errorf("connect vector database: %w", err)
		}

		repo := repository.NewPostgresVectorRepository(pool)
		if err := repo.Migrate(ctx, cfg.EmbeddingDimensions); err != nil {
			_ = repo.Close()

			return nil, fmt.Errorf("migrate vector database: %w", err)
		}

		return repo, nil
	default:
		repo, err := repository.OpenSQLiteVectorRepository(ctx, filepath.Join(cfg.DataDir, sqliteFile))
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}

		return repo, nil
	}
}

// newOrchestrator wires the Reasoner, pytest runner and test sources rooted at projectRoot.
// openMemory must have been called.
func (a *App) newOrchestrator(projectRoot string) (*service.HealingOrchestrator, error) {
	if a.cfg.ReasonerAPIKey == "" {
		return nil, errReasonerNotConfigured
	}

	reasoner := openai.NewReasoner(a.cfg.ReasonerAPIKey,
		openai.WithChatModel(a.cfg.ReasonerModel),
		openai.WithRateLimit(a.cfg.ReasonerRateLimit),
	)

	return service.NewHealingOrchestrator(service.HealingOrchestratorParams{
		Reasoner: service.NewRetryingReasoner(reasoner, a.retry, a.reasonerMetrics()),
		Runner: testrunner.NewPytestRunner(testrunner.PytestRunnerParams{
			Bin:         a.cfg.PytestBin,
			ProjectRoot: projectRoot,
			Timeout:     a.cfg.TestTimeout,
		}),
		Source:      testrunner.NewFileSource(projectRoot),
		Cache:       a.cache,
		KB:          a.kb,
		MaxAttempts: a.cfg.MaxHealingAttempts,
		Workers:     a.cfg.MaxParallelWorkers,
		Metrics:     a.healingMetrics(),
	})
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if tracer != nil {
		if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
			first = err
		}
	}

	if meter != nil {
		if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
			if first == nil {
				first = err
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown closes the vector store and flushes observability.
// Observability is shut down once via defer; its error is returned only when the store closed cleanly.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if a.store != nil {
		if err = a.store.Close(); err != nil {
			return fmt.Errorf("close vector store: %w", err)
		}
	}

	return nil
}
