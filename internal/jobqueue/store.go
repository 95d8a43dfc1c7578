// Package jobqueue implements the durable job store & queue abstraction
// (component A): per-queue WAITING/DELAYED/ACTIVE/COMPLETED/FAILED
// envelopes with visibility leases, exponential backoff with dead-letter
// routing, and named repeatable schedules. It generalizes the shape of the
// teacher's channel-based in-memory queue and in-memory job store into a
// single store that understands retry/backoff/DLQ/lease semantics, which
// neither of those simpler teacher types needed.
package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingestlane/pipeline/internal/id/uuid"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

var idGen = uuid.NewUUIDGenerator()

// State is a job envelope's lifecycle state.
type State string

const (
	StateWaiting   State = "WAITING"
	StateDelayed   State = "DELAYED"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Envelope is the queue-level wrapper around a job payload.
type Envelope struct {
	JobID         string
	Queue         string
	Payload       any
	Priority      int
	Attempt       int
	MaxAttempts   int
	Backoff       Backoff
	EarliestRunAt time.Time
	State         State
	Result        any
	Failure       string
	CreatedAt     time.Time
	CompletedAt   time.Time
	LeaseOwner    string
	LeaseExpires  time.Time
}

// EnqueueOptions controls how a job is admitted.
type EnqueueOptions struct {
	JobID       string
	Priority    int
	Delay       time.Duration
	AttemptsMax int
	Backoff     Backoff
}

// Counts summarizes a queue's envelope population.
type Counts struct {
	Waiting   int
	Active    int
	Delayed   int
	Completed int
	Failed    int
}

// RetentionPolicy bounds how long terminal envelopes are kept before GC.
type RetentionPolicy struct {
	CompletedMaxAge   time.Duration
	CompletedMaxCount int
	FailedMaxAge      time.Duration
	FailedMaxCount    int
}

// DefaultRetentionPolicy matches §4.A's guarantees.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		CompletedMaxAge:   time.Hour,
		CompletedMaxCount: 1000,
		FailedMaxAge:      24 * time.Hour,
		FailedMaxCount:    10000,
	}
}

const defaultVisibilityTimeout = 5 * time.Minute

type queueState struct {
	byID      map[string]*Envelope
	waiting   []*Envelope
	delayed   []*Envelope
	active    map[string]*Envelope
	completed []*Envelope
	failed    []*Envelope
}

func newQueueState() *queueState {
	return &queueState{
		byID:   make(map[string]*Envelope),
		active: make(map[string]*Envelope),
	}
}

// Store is an in-process, mutex-guarded implementation of the job store &
// queue abstraction. A durable backend (queue_store_url pointing at
// Postgres or another store) can implement the same surface; this is the
// one this repository ships and tests against.
type Store struct {
	mu        sync.Mutex
	queues    map[string]*queueState
	retention RetentionPolicy
	now       func() time.Time
	visibility time.Duration

	repeatMu sync.Mutex
	repeat   map[string]*repeatingSchedule

	dlqMu sync.Mutex
	dlq   map[string][]pipeline.DeadLetter

	onDeadLetter func(queue string, dl pipeline.DeadLetter)
}

// NewStore builds a Store with production defaults.
func NewStore(retention RetentionPolicy) *Store {
	return &Store{
		queues:     make(map[string]*queueState),
		retention:  retention,
		now:        time.Now,
		visibility: defaultVisibilityTimeout,
		repeat:     make(map[string]*repeatingSchedule),
		dlq:        make(map[string][]pipeline.DeadLetter),
	}
}

// OnDeadLetter registers a callback invoked whenever a job exhausts
// retries, used to mirror DLQ writes onto an operator-facing notification
// channel (see the Pub/Sub-backed DLQ tap in internal/deadletter).
func (s *Store) OnDeadLetter(fn func(queue string, dl pipeline.DeadLetter)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDeadLetter = fn
}

func (s *Store) queueFor(name string) *queueState {
	q, ok := s.queues[name]
	if !ok {
		q = newQueueState()
		s.queues[name] = q
	}
	return q
}

// Enqueue admits payload onto queue. Supplying job_id makes the call
// idempotent: re-enqueueing the same id while the job is still retained
// (any non-purged state) is a no-op that returns the existing id.
func (s *Store) Enqueue(_ context.Context, queue string, payload any, opts EnqueueOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(queue)
	if opts.JobID != "" {
		if existing, ok := q.byID[opts.JobID]; ok {
			return existing.JobID, nil
		}
	}

	jobID := opts.JobID
	if jobID == "" {
		id, err := idGen.NewID()
		if err != nil {
			id = fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), len(q.byID))
		}
		jobID = id
	}
	attemptsMax := opts.AttemptsMax
	if attemptsMax <= 0 {
		attemptsMax = 1
	}
	backoff := opts.Backoff
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff()
	}

	now := s.now()
	env := &Envelope{
		JobID:         jobID,
		Queue:         queue,
		Payload:       payload,
		Priority:      opts.Priority,
		Attempt:       0,
		MaxAttempts:   attemptsMax,
		Backoff:       backoff,
		EarliestRunAt: now.Add(opts.Delay),
		CreatedAt:     now,
	}
	q.byID[jobID] = env
	if opts.Delay > 0 {
		env.State = StateDelayed
		q.delayed = append(q.delayed, env)
	} else {
		env.State = StateWaiting
		insertByPriority(&q.waiting, env)
	}
	return jobID, nil
}

func insertByPriority(list *[]*Envelope, env *Envelope) {
	idx := len(*list)
	for i, e := range *list {
		if env.Priority > e.Priority {
			idx = i
			break
		}
	}
	*list = append(*list, nil)
	copy((*list)[idx+1:], (*list)[idx:])
	(*list)[idx] = env
}

// promoteDue moves delayed jobs whose EarliestRunAt has elapsed into
// waiting, and returns expired active leases to waiting (a stalled worker
// heartbeat); the attempt count rises when Reserve hands the envelope out
// again.
func (s *Store) promoteDue(q *queueState) {
	now := s.now()
	remaining := q.delayed[:0]
	for _, env := range q.delayed {
		if !now.Before(env.EarliestRunAt) {
			env.State = StateWaiting
			insertByPriority(&q.waiting, env)
			continue
		}
		remaining = append(remaining, env)
	}
	q.delayed = remaining

	for id, env := range q.active {
		if now.After(env.LeaseExpires) {
			env.State = StateWaiting
			env.LeaseOwner = ""
			delete(q.active, id)
			insertByPriority(&q.waiting, env)
		}
	}
}

// Reserve atomically moves the highest-priority eligible WAITING envelope
// to ACTIVE under a visibility lease. Returns nil, nil when nothing is
// eligible.
func (s *Store) Reserve(_ context.Context, queue, workerID string) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(queue)
	s.promoteDue(q)
	if len(q.waiting) == 0 {
		return nil, nil
	}
	env := q.waiting[0]
	q.waiting = q.waiting[1:]
	env.State = StateActive
	env.Attempt++
	env.LeaseOwner = workerID
	env.LeaseExpires = s.now().Add(s.visibility)
	q.active[env.JobID] = env
	return env, nil
}

// Complete marks a job COMPLETED.
func (s *Store) Complete(_ context.Context, queue, jobID string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(queue)
	env, ok := q.active[jobID]
	if !ok {
		env, ok = q.byID[jobID]
		if !ok {
			return pipeline.New(pipeline.KindInternalError, "complete: unknown job "+jobID)
		}
	}
	delete(q.active, jobID)
	env.State = StateCompleted
	env.Result = result
	env.CompletedAt = s.now()
	q.completed = append(q.completed, env)
	s.gcCompleted(q)
	return nil
}

// Fail evaluates the retry budget: if attempts remain, the job is
// re-queued with the next backoff delay; otherwise it is written to the
// DLQ and its envelope transitions to FAILED.
func (s *Store) Fail(_ context.Context, queue, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(queue)
	env, ok := q.active[jobID]
	if !ok {
		env, ok = q.byID[jobID]
		if !ok {
			return pipeline.New(pipeline.KindInternalError, "fail: unknown job "+jobID)
		}
	}
	delete(q.active, jobID)
	env.Failure = reason

	if env.Attempt < env.MaxAttempts {
		env.State = StateDelayed
		env.EarliestRunAt = s.now().Add(env.Backoff.Delay(env.Attempt))
		q.delayed = append(q.delayed, env)
		return nil
	}

	env.State = StateFailed
	env.CompletedAt = s.now()
	q.failed = append(q.failed, env)

	dl := pipeline.DeadLetter{
		OriginalQueue: queue,
		OriginalJobID: jobID,
		FailureReason: reason,
		FailedAt:      s.now(),
		Attempts:      env.Attempt,
	}
	s.dlqMu.Lock()
	s.dlq[queue] = append(s.dlq[queue], dl)
	cb := s.onDeadLetter
	s.dlqMu.Unlock()
	if cb != nil {
		cb(queue, dl)
	}
	s.gcFailed(q)
	return nil
}

func (s *Store) gcCompleted(q *queueState) {
	cutoff := s.now().Add(-s.retention.CompletedMaxAge)
	kept := q.completed[:0]
	for _, env := range q.completed {
		if env.CompletedAt.After(cutoff) {
			kept = append(kept, env)
		}
	}
	if max := s.retention.CompletedMaxCount; max > 0 && len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	q.completed = kept
}

func (s *Store) gcFailed(q *queueState) {
	cutoff := s.now().Add(-s.retention.FailedMaxAge)
	kept := q.failed[:0]
	for _, env := range q.failed {
		if env.CompletedAt.After(cutoff) {
			kept = append(kept, env)
		}
	}
	if max := s.retention.FailedMaxCount; max > 0 && len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	q.failed = kept
}

// Counts reports the population of each state for a queue.
func (s *Store) Counts(_ context.Context, queue string) Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queueFor(queue)
	s.promoteDue(q)
	return Counts{
		Waiting:   len(q.waiting),
		Active:    len(q.active),
		Delayed:   len(q.delayed),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
}

// DeadLetters returns the retained dead-letter records for a queue. The
// DLQ is never auto-drained; this is read-only inspection for operators.
func (s *Store) DeadLetters(queue string) []pipeline.DeadLetter {
	s.dlqMu.Lock()
	defer s.dlqMu.Unlock()
	out := make([]pipeline.DeadLetter, len(s.dlq[queue]))
	copy(out, s.dlq[queue])
	return out
}

// JobPayload returns the original payload queued under jobID, used by the
// admin API's redrive endpoint to reconstruct the Enqueue call for a
// dead-lettered job (envelopes are retained in byID for the life of the
// process, independent of retention GC on the completed/failed slices).
func (s *Store) JobPayload(queue, jobID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queueFor(queue)
	env, ok := q.byID[jobID]
	if !ok {
		return nil, false
	}
	return env.Payload, true
}

// Redrive re-enqueues a dead-lettered job's original payload by index,
// used by the admin API's manual redrive endpoint.
func (s *Store) Redrive(ctx context.Context, queue string, index int, payload any, opts EnqueueOptions) (string, error) {
	s.dlqMu.Lock()
	if index < 0 || index >= len(s.dlq[queue]) {
		s.dlqMu.Unlock()
		return "", pipeline.New(pipeline.KindInvalidData, "redrive: index out of range")
	}
	s.dlq[queue] = append(s.dlq[queue][:index], s.dlq[queue][index+1:]...)
	s.dlqMu.Unlock()
	return s.Enqueue(ctx, queue, payload, opts)
}
