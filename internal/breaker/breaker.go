// Package breaker implements the per-dependency circuit breaker registry
// (component D). No breaker exists anywhere in the retrieval pack; this is
// synthesized in the same small idiom internal/ratelimit's Limiter and the
// crawler's ratelimit.Limiter both use: a mutex-guarded map keyed by a
// string, with short critical sections and no I/O performed while the lock
// is held.
package breaker

import (
	"sync"
	"time"

	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Dependency names the external collaborators the pipeline calls out to.
type Dependency string

const (
	DependencyCMS             Dependency = "CMS"
	DependencyObjectStore     Dependency = "OBJECT_STORE"
	DependencyTranscriber     Dependency = "TRANSCRIBER"
	DependencyEmbedder        Dependency = "EMBEDDER"
	DependencyVideoChannelAPI Dependency = "VIDEO_CHANNEL_API"
	DependencyForumAPI        Dependency = "FORUM_API"
	DependencyMicroblogAPI    Dependency = "MICROBLOG_API"
)

// Config tunes one dependency's breaker.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenProbes   int
}

// DefaultConfig matches §4.D's default tuning.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenProbes: 3}
}

type breakerState struct {
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	probeInFlight bool
}

// Registry holds one breaker per dependency.
type Registry struct {
	mu     sync.Mutex
	cfg    map[Dependency]Config
	states map[Dependency]*breakerState
	defCfg Config
	now    func() time.Time
}

// NewRegistry builds a registry. Per-dependency overrides may be supplied;
// anything absent uses defaultCfg.
func NewRegistry(defaultCfg Config, overrides map[Dependency]Config) *Registry {
	return &Registry{
		cfg:    overrides,
		states: make(map[Dependency]*breakerState),
		defCfg: defaultCfg,
		now:    time.Now,
	}
}

func (r *Registry) configFor(dep Dependency) Config {
	if c, ok := r.cfg[dep]; ok {
		return c
	}
	return r.defCfg
}

func (r *Registry) stateFor(dep Dependency) *breakerState {
	s, ok := r.states[dep]
	if !ok {
		s = &breakerState{state: StateClosed}
		r.states[dep] = s
	}
	return s
}

// Execute consults and updates the breaker for dep around fn. It returns a
// CircuitOpen error without calling fn when the circuit is OPEN and no
// probe slot is available (the reset-timeout is evaluated lazily here,
// inside Execute, never by a background poller, so exactly one caller can
// ever claim the HALF_OPEN probe slot).
func (r *Registry) Execute(dep Dependency, fn func() error) error {
	cfg := r.configFor(dep)

	r.mu.Lock()
	s := r.stateFor(dep)
	allowed, isProbe := r.admit(s, cfg)
	if !allowed {
		r.mu.Unlock()
		return pipeline.New(pipeline.KindCircuitOpen, "breaker open for "+string(dep))
	}
	r.mu.Unlock()

	err := fn()

	r.mu.Lock()
	defer r.mu.Unlock()
	s = r.stateFor(dep)
	if err != nil {
		r.recordFailure(dep, s, cfg)
	} else {
		r.recordSuccess(s, cfg)
	}
	if isProbe {
		s.probeInFlight = false
	}
	metrics.SetBreakerState(string(dep), int(s.state))
	return err
}

// admit must be called with r.mu held. It returns whether the call may
// proceed and, if so, whether it is consuming the single HALF_OPEN probe
// slot.
func (r *Registry) admit(s *breakerState, cfg Config) (allowed bool, isProbe bool) {
	switch s.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if r.now().Sub(s.lastFailure) >= cfg.ResetTimeout {
			s.state = StateHalfOpen
			s.successes = 0
			s.probeInFlight = true
			return true, true
		}
		return false, false
	case StateHalfOpen:
		if s.probeInFlight {
			return false, false
		}
		s.probeInFlight = true
		return true, true
	default:
		return true, false
	}
}

func (r *Registry) recordFailure(dep Dependency, s *breakerState, cfg Config) {
	s.lastFailure = r.now()
	switch s.state {
	case StateClosed:
		s.failures++
		if s.failures >= cfg.FailureThreshold {
			s.state = StateOpen
			metrics.IncBreakerTrip(string(dep))
		}
	case StateHalfOpen:
		s.state = StateOpen
		s.failures = cfg.FailureThreshold
		metrics.IncBreakerTrip(string(dep))
	case StateOpen:
		// already open; nothing to do beyond refreshing lastFailure.
	}
}

func (r *Registry) recordSuccess(s *breakerState, cfg Config) {
	switch s.state {
	case StateClosed:
		s.failures = 0
	case StateHalfOpen:
		s.successes++
		if s.successes >= cfg.HalfOpenProbes {
			s.state = StateClosed
			s.failures = 0
			s.successes = 0
		}
	case StateOpen:
		// a stray success after the window reopened; treat like half-open probe success.
		s.state = StateClosed
		s.failures = 0
	}
}

// CurrentState reports a dependency's current state, for diagnostics.
func (r *Registry) CurrentState(dep Dependency) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateFor(dep).state
}
