// Package worker implements the worker runtime (component J): one
// concurrent pool per queue driving the fetch/normalize/media/enrichment
// stages, cooperative cancellation, and a stop-reserving/drain/force-
// cancel/flush shutdown protocol. Grounded on the shape of a crawler's
// job-loop worker (reserve, process, complete-or-fail) generalized from a
// single worker type to one pool per stage with per-stage concurrency
// and, for the CPU-bound media stage, an ants.Pool in place of raw
// goroutines.
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ingestlane/pipeline/internal/fetch"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/normalize"
	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/ingestlane/pipeline/internal/telemetry"
)

const (
	fetchQueue      = "fetch"
	normalizeQueue  = "normalize"
	mediaQueue      = "media"
	enrichmentQueue = "enrichment"

	// pollInterval is how often an idle worker retries Reserve when a
	// queue is empty.
	pollInterval = 250 * time.Millisecond
)

// Config tunes the runtime's per-queue concurrency and shutdown grace
// period (§5).
type Config struct {
	FetchConcurrency      int
	NormalizeConcurrency  int
	MediaConcurrency      int
	EnrichmentConcurrency int
	ShutdownGrace         time.Duration
	FetchJobTimeout       time.Duration
	NormalizeJobTimeout   time.Duration
	MediaJobTimeout       time.Duration
	EnrichmentJobTimeout  time.Duration
}

// DefaultConfig matches §5's default per-queue concurrency.
func DefaultConfig() Config {
	return Config{
		FetchConcurrency:      5,
		NormalizeConcurrency:  5,
		MediaConcurrency:      2,
		EnrichmentConcurrency: 3,
		ShutdownGrace:         30 * time.Second,
		FetchJobTimeout:       60 * time.Second,
		NormalizeJobTimeout:   60 * time.Second,
		MediaJobTimeout:       180 * time.Second,
		EnrichmentJobTimeout:  180 * time.Second,
	}
}

// Dispatcher is the fetch-stage collaborator the runtime drives, narrowed
// from *fetch.Dispatcher so tests can substitute a fake.
type Dispatcher interface {
	Fetch(ctx context.Context, source pipeline.SourceDescriptor, cursor string) (fetch.Result, error)
	OnPodcastDiscovered(fn func(feedURL string))
}

// NormalizeStage is the normalize-stage collaborator the runtime drives.
type NormalizeStage interface {
	Process(ctx context.Context, job pipeline.NormalizeJob) (normalize.BatchCounts, error)
}

// MediaStage is the media-stage collaborator the runtime drives.
type MediaStage interface {
	Process(ctx context.Context, job pipeline.MediaJob) error
}

// EnrichmentStage is the enrichment-stage collaborator the runtime drives.
type EnrichmentStage interface {
	Process(ctx context.Context, job pipeline.EnrichmentJob) error
}

// SourceRegistry is the source registry & scheduler collaborator the
// runtime drives.
type SourceRegistry interface {
	Get(sourceID string) (pipeline.SourceDescriptor, bool)
	Register(s pipeline.SourceDescriptor) error
	TriggerNow(sourceID string) (string, error)
	Shutdown()
}

// Runtime hosts the four job-queue consumer pools.
type Runtime struct {
	cfg        Config
	queue      *jobqueue.Store
	dispatcher Dispatcher
	normalize  NormalizeStage
	media      MediaStage
	enrichment EnrichmentStage
	sources    SourceRegistry
	logger     *zap.Logger
	mediaPool  *ants.Pool

	wg            sync.WaitGroup
	reserveCancel context.CancelFunc
	workCancel    context.CancelFunc
}

// New builds a Runtime. Callers obtain stage instances from the app's DI
// container and pass them in already wired to their own collaborators.
func New(
	cfg Config,
	queue *jobqueue.Store,
	dispatcher Dispatcher,
	normalizeStage NormalizeStage,
	mediaStage MediaStage,
	enrichmentStage EnrichmentStage,
	sources SourceRegistry,
	logger *zap.Logger,
) (*Runtime, error) {
	mediaPool, err := ants.NewPool(cfg.MediaConcurrency)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindInternalError, "create media worker pool", err)
	}
	r := &Runtime{
		cfg:        cfg,
		queue:      queue,
		dispatcher: dispatcher,
		normalize:  normalizeStage,
		media:      mediaStage,
		enrichment: enrichmentStage,
		sources:    sources,
		logger:     logger,
		mediaPool:  mediaPool,
	}
	dispatcher.OnPodcastDiscovered(r.onPodcastDiscovered)
	return r, nil
}

// Run starts every queue's consumer pool and blocks until ctx is
// cancelled or Shutdown is called. Two independent contexts drive the
// pools: reserveCtx governs the Reserve-loop polling and is cancelled
// immediately on shutdown to stop picking up new work; workCtx is the
// parent of every in-flight job's context and is cancelled only once
// Shutdown's grace period elapses, per §4.J.
func (r *Runtime) Run(ctx context.Context) {
	reserveCtx, reserveCancel := context.WithCancel(ctx)
	workCtx, workCancel := context.WithCancel(ctx)
	r.reserveCancel = reserveCancel
	r.workCancel = workCancel

	r.startPool(reserveCtx, workCtx, fetchQueue, r.cfg.FetchConcurrency, r.cfg.FetchJobTimeout, r.handleFetch)
	r.startPool(reserveCtx, workCtx, normalizeQueue, r.cfg.NormalizeConcurrency, r.cfg.NormalizeJobTimeout, r.handleNormalize)
	r.startPool(reserveCtx, workCtx, enrichmentQueue, r.cfg.EnrichmentConcurrency, r.cfg.EnrichmentJobTimeout, r.handleEnrichment)
	r.startMediaPool(reserveCtx, workCtx)

	<-reserveCtx.Done()
}

// Shutdown implements §4.J's stop-reserving -> drain -> force-cancel ->
// flush protocol: reserving stops immediately, in-flight jobs get up to
// ShutdownGrace to finish on their own, and only then are their contexts
// force-cancelled before the final flush.
func (r *Runtime) Shutdown() {
	if r.reserveCancel == nil {
		return
	}
	r.reserveCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.ShutdownGrace):
		r.logger.Warn("worker shutdown grace period elapsed; force-cancelling in-flight jobs")
		r.workCancel()
		<-done
	}

	r.mediaPool.Release()
	r.sources.Shutdown()
}

// startPool runs `concurrency` goroutines that each loop Reserve ->
// handle -> Complete/Fail against queueName. reserveCtx governs the
// Reserve loop itself; workCtx is the parent passed to r.run for the
// job's own execution context, so cancelling reserveCtx alone stops new
// work from being picked up without tearing down work already in flight.
func (r *Runtime) startPool(reserveCtx, workCtx context.Context, queueName string, concurrency int, timeout time.Duration, handle func(ctx context.Context, env *jobqueue.Envelope) (any, error)) {
	for i := 0; i < concurrency; i++ {
		r.wg.Add(1)
		go func(workerID string) {
			defer r.wg.Done()
			r.consume(reserveCtx, workCtx, queueName, workerID, timeout, handle)
		}(workerIDFor(queueName, i))
	}
}

// startMediaPool runs the media queue's reservation loop with a semaphore
// sized to the ants pool's capacity, submitting each job's processing to
// the pool instead of spawning a dedicated goroutine per slot.
func (r *Runtime) startMediaPool(reserveCtx, workCtx context.Context) {
	sem := make(chan struct{}, r.cfg.MediaConcurrency)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-reserveCtx.Done():
				return
			case sem <- struct{}{}:
			}

			env, err := r.queue.Reserve(reserveCtx, mediaQueue, "media-dispatch")
			if err != nil || env == nil {
				<-sem
				if err != nil {
					r.logger.Error("reserve media job", zap.Error(err))
				}
				select {
				case <-reserveCtx.Done():
					return
				case <-time.After(pollInterval):
				}
				continue
			}

			r.wg.Add(1)
			submitErr := r.mediaPool.Submit(func() {
				defer r.wg.Done()
				defer func() { <-sem }()
				r.run(workCtx, mediaQueue, env, r.cfg.MediaJobTimeout, r.handleMedia)
			})
			if submitErr != nil {
				r.logger.Error("submit media job to pool", zap.Error(submitErr))
				r.wg.Done()
				<-sem
			}
		}
	}()
}

func (r *Runtime) consume(reserveCtx, workCtx context.Context, queueName, workerID string, timeout time.Duration, handle func(ctx context.Context, env *jobqueue.Envelope) (any, error)) {
	for {
		select {
		case <-reserveCtx.Done():
			return
		default:
		}

		env, err := r.queue.Reserve(reserveCtx, queueName, workerID)
		if err != nil {
			r.logger.Error("reserve job", zap.String("queue", queueName), zap.Error(err))
			continue
		}
		if env == nil {
			select {
			case <-reserveCtx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		r.run(workCtx, queueName, env, timeout, handle)
	}
}

func (r *Runtime) run(ctx context.Context, queueName string, env *jobqueue.Envelope, timeout time.Duration, handle func(ctx context.Context, env *jobqueue.Envelope) (any, error)) {
	metrics.IncActiveWorkers(queueName)
	defer metrics.DecActiveWorkers(queueName)

	spanCtx, span := telemetry.Tracer().Start(ctx, "queue."+queueName)
	span.SetAttributes(attribute.String("job.id", env.JobID), attribute.Int("job.attempt", env.Attempt))
	defer span.End()

	jobCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	start := time.Now()
	result, err := handle(jobCtx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveJob(queueName, "error", time.Since(start))
		if failErr := r.queue.Fail(ctx, queueName, env.JobID, err.Error()); failErr != nil {
			r.logger.Error("mark job failed", zap.String("queue", queueName), zap.Error(failErr))
		}
		return
	}
	metrics.ObserveJob(queueName, "success", time.Since(start))
	if completeErr := r.queue.Complete(ctx, queueName, env.JobID, result); completeErr != nil {
		r.logger.Error("mark job complete", zap.String("queue", queueName), zap.Error(completeErr))
	}
}

func workerIDFor(queueName string, index int) string {
	return queueName + "-worker-" + strconv.Itoa(index)
}
