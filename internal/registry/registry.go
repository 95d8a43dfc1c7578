// Package registry implements the source registry & scheduler (component
// E): it holds the configured SourceDescriptors, schedules a repeating
// FetchJob producer per enabled source, and exposes manual trigger/
// unschedule operations for the admin API. Grounded on the same
// config-declared, in-memory registration idiom the crawler's site
// configuration loader uses, generalized from "sites to crawl" to
// "sources to poll" and wired onto internal/jobqueue's named repeating
// schedules instead of a bespoke ticker.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

const fetchQueue = "fetch"

// DefaultPollIntervals supplies §4.E's per-kind defaults used when a
// SourceDescriptor's PollInterval is zero.
func DefaultPollIntervals() map[pipeline.SourceKind]time.Duration {
	return map[pipeline.SourceKind]time.Duration{
		pipeline.SourceKindFeed:             15 * time.Minute,
		pipeline.SourceKindVideoChannel:     60 * time.Minute,
		pipeline.SourceKindPodcastFeed:      60 * time.Minute,
		pipeline.SourceKindPodcastDiscovery: 24 * time.Hour,
		pipeline.SourceKindForum:            10 * time.Minute,
		pipeline.SourceKindMicroblog:        30 * time.Minute,
	}
}

// Registry owns the set of known sources and their schedules.
type Registry struct {
	mu       sync.Mutex
	sources  map[string]pipeline.SourceDescriptor
	queue    *jobqueue.Store
	defaults map[pipeline.SourceKind]time.Duration
	now      func() time.Time
}

// New builds a Registry over an existing job store.
func New(queue *jobqueue.Store) *Registry {
	return &Registry{
		sources:  make(map[string]pipeline.SourceDescriptor),
		queue:    queue,
		defaults: DefaultPollIntervals(),
		now:      time.Now,
	}
}

func scheduleName(kind pipeline.SourceKind, id string) string {
	return "fetch:" + string(kind) + ":" + id
}

// Register records a source descriptor and, if enabled and schedulable,
// starts its repeating fetch producer.
func (r *Registry) Register(s pipeline.SourceDescriptor) error {
	r.mu.Lock()
	r.sources[s.ID] = s
	r.mu.Unlock()

	if !s.Enabled {
		return nil
	}
	return r.schedule(s)
}

// schedule starts (or replaces) the named repeating schedule for a source.
// UPLOAD sources are never scheduled, matching §4.E.
func (r *Registry) schedule(s pipeline.SourceDescriptor) error {
	if s.Kind == pipeline.SourceKindUpload {
		return nil
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = r.defaults[s.Kind]
	}
	if interval <= 0 {
		return pipeline.New(pipeline.KindConfigError, "no poll interval configured for kind "+string(s.Kind))
	}

	job := pipeline.FetchJob{
		SourceID:    s.ID,
		Kind:        s.Kind,
		Settings:    s.KindSpecificSettings,
		TriggeredBy: pipeline.TriggeredBySchedule,
	}
	r.queue.ScheduleRepeating(
		context.Background(),
		scheduleName(s.Kind, s.ID),
		fetchQueue,
		job,
		interval,
		jobqueue.EnqueueOptions{Priority: 1, AttemptsMax: 3},
	)
	return nil
}

// TriggerNow enqueues a single high-priority FetchJob outside the regular
// schedule. Disabled sources are refused.
func (r *Registry) TriggerNow(sourceID string) (string, error) {
	r.mu.Lock()
	s, ok := r.sources[sourceID]
	r.mu.Unlock()
	if !ok {
		return "", pipeline.New(pipeline.KindInvalidData, "unknown source "+sourceID)
	}
	if !s.Enabled {
		return "", pipeline.New(pipeline.KindInvalidData, "source "+sourceID+" is disabled")
	}

	job := pipeline.FetchJob{
		SourceID:    s.ID,
		Kind:        s.Kind,
		Settings:    s.KindSpecificSettings,
		TriggeredBy: pipeline.TriggeredByManual,
		TriggeredAt: r.now(),
	}
	return r.queue.Enqueue(context.Background(), fetchQueue, job, jobqueue.EnqueueOptions{Priority: 10, AttemptsMax: 3})
}

// Unschedule stops a source's repeating fetch producer without removing its
// descriptor.
func (r *Registry) Unschedule(sourceID string, kind pipeline.SourceKind) {
	r.queue.CancelRepeating(scheduleName(kind, sourceID))
}

// Get returns a registered source descriptor by id.
func (r *Registry) Get(sourceID string) (pipeline.SourceDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceID]
	return s, ok
}

// List returns a snapshot of every registered source.
func (r *Registry) List() []pipeline.SourceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.SourceDescriptor, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// SetEnabled flips a source's enabled flag, starting or stopping its
// schedule to match.
func (r *Registry) SetEnabled(sourceID string, enabled bool) error {
	r.mu.Lock()
	s, ok := r.sources[sourceID]
	if !ok {
		r.mu.Unlock()
		return pipeline.New(pipeline.KindInvalidData, "unknown source "+sourceID)
	}
	s.Enabled = enabled
	r.sources[sourceID] = s
	r.mu.Unlock()

	if !enabled {
		r.Unschedule(sourceID, s.Kind)
		return nil
	}
	return r.schedule(s)
}

// Shutdown tears down every schedule this registry started.
func (r *Registry) Shutdown() {
	r.queue.CancelAllRepeating()
}
