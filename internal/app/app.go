// Package app initializes and holds long-lived application services,
// acting as a dependency injection container. Grounded on the teacher's
// internal/app/app.go shape: one constructor that fails fast on any
// collaborator it cannot build, and a Close that shuts everything down in
// reverse order.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ingestlane/pipeline/internal/adminapi"
	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/cms"
	"github.com/ingestlane/pipeline/internal/config"
	"github.com/ingestlane/pipeline/internal/deadletter"
	"github.com/ingestlane/pipeline/internal/dedup"
	"github.com/ingestlane/pipeline/internal/embedclient"
	"github.com/ingestlane/pipeline/internal/enrichment"
	"github.com/ingestlane/pipeline/internal/fetch"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/logging"
	"github.com/ingestlane/pipeline/internal/media"
	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/normalize"
	"github.com/ingestlane/pipeline/internal/objectstore"
	"github.com/ingestlane/pipeline/internal/ratelimit"
	"github.com/ingestlane/pipeline/internal/registry"
	"github.com/ingestlane/pipeline/internal/telemetry"
	"github.com/ingestlane/pipeline/internal/transcriber"
	"github.com/ingestlane/pipeline/internal/worker"
)

// dedupStore is satisfied by every dedup backend (memory, badger,
// postgres); it is also what normalize.DedupStore requires.
type dedupStore interface {
	Check(key string) dedup.Result
	Mark(key, contentID string, ttl time.Duration)
}

// App holds every shared, long-lived service the running process needs.
type App struct {
	logger      *zap.Logger
	cfg         config.Config
	queue       *jobqueue.Store
	sources     *registry.Registry
	runtime     *worker.Runtime
	admin       *adminapi.Server
	notifier    *deadletter.Notifier
	dedupCloser func() error
}

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger { return a.logger }

// AdminHandler returns the operator HTTP surface.
func (a *App) AdminHandler() http.Handler { return a.admin.Handler() }

// Run starts the worker runtime and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.runtime.Run(ctx)
}

// New builds an App from cfg, failing fast if any collaborator cannot be
// constructed.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	if _, err := telemetry.Init(ctx, cfg.Application.ServiceName, cfg.Application.Version); err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	queue := jobqueue.NewStore(jobqueue.DefaultRetentionPolicy())

	store, dedupCloser, err := buildDedupStore(cfg.Dedup)
	if err != nil {
		return nil, fmt.Errorf("build dedup store: %w", err)
	}

	objStore, err := buildObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("build object store: %w", err)
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.OpenDuration,
		HalfOpenProbes:   cfg.Breaker.HalfOpenMax,
	}, nil)

	limiter := ratelimit.New(nil)

	cmsClient := cms.New(cms.Config{
		BaseURL:      cfg.Collaborator.CMSBaseURL,
		ServiceToken: cfg.Collaborator.CMSServiceToken,
		ServiceName:  cfg.Collaborator.CMSServiceName,
		Timeout:      cfg.Collaborator.CMSTimeout,
	}, &http.Client{Timeout: cfg.Collaborator.CMSTimeout})

	transcriberClient := transcriber.New(transcriber.Config{
		BaseURL: cfg.Collaborator.TranscriberBaseURL,
		Timeout: cfg.Collaborator.TranscriberTimeout,
	}, &http.Client{Timeout: cfg.Collaborator.TranscriberTimeout})

	embedder, err := embedclient.New(embedclient.Config{
		BaseURL:   cfg.Collaborator.EmbeddingBaseURL,
		Model:     cfg.Collaborator.EmbeddingModel,
		APIKey:    cfg.Collaborator.EmbeddingAPIKey,
		Dimension: cfg.Collaborator.EmbeddingDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedding client: %w", err)
	}

	transport := fetch.NewTransport("ingest-pipeline/1.0", true, 1, 30*time.Second)
	dispatcher := fetch.NewDispatcher(limiter, breakers, transport)

	normalizeStage := normalize.New(store, cmsClient, breakers, queue)
	mediaStage := media.New(objStore, cmsClient, breakers, queue)
	enrichmentStage := enrichment.New(
		cmsClient,
		transcriberClient,
		embedder,
		enrichment.NewHTTPMediaFetcher(cfg.Collaborator.TranscriberTimeout),
		enrichment.FFmpegAudioExtractor{},
		breakers,
	)

	sources := registry.New(queue)
	for _, desc := range cfg.StandardSources {
		if err := sources.Register(desc); err != nil {
			return nil, fmt.Errorf("register standard source %s: %w", desc.ID, err)
		}
	}

	workerCfg := worker.Config{
		FetchConcurrency:      cfg.Worker.FetchConcurrency,
		NormalizeConcurrency:  cfg.Worker.NormalizeConcurrency,
		MediaConcurrency:      cfg.Worker.MediaConcurrency,
		EnrichmentConcurrency: cfg.Worker.EnrichmentConcurrency,
		ShutdownGrace:         cfg.Worker.ShutdownGrace,
		FetchJobTimeout:       cfg.Worker.FetchJobTimeout,
		NormalizeJobTimeout:   cfg.Worker.NormalizeJobTimeout,
		MediaJobTimeout:       cfg.Worker.MediaJobTimeout,
		EnrichmentJobTimeout:  cfg.Worker.EnrichmentJobTimeout,
	}
	runtime, err := worker.New(workerCfg, queue, dispatcher, normalizeStage, mediaStage, enrichmentStage, sources, logger)
	if err != nil {
		return nil, fmt.Errorf("build worker runtime: %w", err)
	}

	admin := adminapi.New(adminapi.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		BearerToken:    cfg.Server.BearerToken,
	}, queue, sources, []adminapi.HealthProber{cmsClient}, logger)

	notifier, err := buildDeadLetterNotifier(ctx, cfg.DeadLetter, logger)
	if err != nil {
		logger.Warn("dead letter pub/sub notifier disabled", zap.Error(err))
	}
	if notifier != nil {
		queue.OnDeadLetter(notifier.OnDeadLetter)
	}

	logger.Info("application services initialized")

	return &App{
		logger:      logger,
		cfg:         cfg,
		queue:       queue,
		sources:     sources,
		runtime:     runtime,
		admin:       admin,
		notifier:    notifier,
		dedupCloser: dedupCloser,
	}, nil
}

// Close gracefully shuts down every owned service.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.runtime.Shutdown()
	if a.dedupCloser != nil {
		if err := a.dedupCloser(); err != nil {
			a.logger.Warn("error closing dedup store", zap.Error(err))
		}
	}
	if err := telemetry.Shutdown(context.Background()); err != nil {
		a.logger.Warn("error shutting down tracer provider", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("error syncing logger on shutdown", zap.Error(err))
	}
}

func buildDedupStore(cfg config.DedupConfig) (dedupStore, func() error, error) {
	switch cfg.Backend {
	case "badger":
		s, err := dedup.OpenBadgerStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := dedup.OpenPostgresStore(context.Background(), dedup.PostgresStoreConfig{
			DSN:   cfg.DSN,
			Table: cfg.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return dedup.NewStore(), func() error { return nil }, nil
	}
}

func buildObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (media.ObjectStore, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		return objectstore.NewGCS(client, cfg.GCSBucket)
	default:
		return objectstore.NewLocal(cfg.LocalDir)
	}
}

func buildDeadLetterNotifier(ctx context.Context, cfg config.DeadLetterConfig, logger *zap.Logger) (*deadletter.Notifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("dead_letter.project_id not configured")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(cfg.Topic)
	return deadletter.NewNotifier(topic, logger), nil
}
