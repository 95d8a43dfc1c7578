// Package ratelimit implements the sliding-window per-source admission
// control (component C). It is grounded on internal/policy/ratelimit's
// per-domain map-of-limiters idiom, generalized from one token bucket per
// hostname to a sliding window keyed by (source_kind, source_id), since
// admission here gates whole fetch jobs rather than smoothing individual
// HTTP requests (that smoothing still happens one layer down, inside the
// fetch adapters, via golang.org/x/time/rate — see internal/fetch).
package ratelimit

import (
	"sync"
	"time"

	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// Rule is the (max_requests, window) pair governing one source kind.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultRules matches §4.C's sensible defaults.
func DefaultRules() map[pipeline.SourceKind]Rule {
	return map[pipeline.SourceKind]Rule{
		pipeline.SourceKindFeed:             {MaxRequests: 60, Window: time.Minute},
		pipeline.SourceKindVideoChannel:     {MaxRequests: 100, Window: time.Minute},
		pipeline.SourceKindForum:            {MaxRequests: 60, Window: time.Minute},
		pipeline.SourceKindMicroblog:        {MaxRequests: 100, Window: time.Hour},
	}
}

const defaultRule = 60

// CheckResult is returned by Check.
type CheckResult struct {
	Allowed   bool
	Remaining int
	ResetMs   int64
}

// Limiter tracks a sliding window of hit timestamps per (kind, id).
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	rules   map[pipeline.SourceKind]Rule
	now     func() time.Time
}

// New builds a Limiter. A nil/empty rules map falls back to DefaultRules.
func New(rules map[pipeline.SourceKind]Rule) *Limiter {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Limiter{
		windows: make(map[string][]time.Time),
		rules:   rules,
		now:     time.Now,
	}
}

func (l *Limiter) ruleFor(kind pipeline.SourceKind) Rule {
	if r, ok := l.rules[kind]; ok {
		return r
	}
	return Rule{MaxRequests: defaultRule, Window: time.Minute}
}

func key(kind pipeline.SourceKind, id string) string {
	return string(kind) + "/" + id
}

// Check reports whether another request for (kind, id) is currently
// allowed, without recording a hit.
func (l *Limiter) Check(kind pipeline.SourceKind, id string) CheckResult {
	rule := l.ruleFor(kind)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(kind, id, rule)
}

func (l *Limiter) checkLocked(kind pipeline.SourceKind, id string, rule Rule) CheckResult {
	now := l.now()
	k := key(kind, id)
	hits := evict(l.windows[k], now, rule.Window)
	l.windows[k] = hits

	if len(hits) < rule.MaxRequests {
		return CheckResult{Allowed: true, Remaining: rule.MaxRequests - len(hits)}
	}
	oldest := hits[0]
	resetIn := rule.Window - now.Sub(oldest)
	if resetIn < 0 {
		resetIn = 0
	}
	return CheckResult{Allowed: false, Remaining: 0, ResetMs: resetIn.Milliseconds()}
}

// Consume records a hit for (kind, id) only if currently allowed, and
// reports the same verdict Check would have.
func (l *Limiter) Consume(kind pipeline.SourceKind, id string) CheckResult {
	rule := l.ruleFor(kind)
	l.mu.Lock()
	defer l.mu.Unlock()
	result := l.checkLocked(kind, id, rule)
	k := key(kind, id)
	if result.Allowed {
		l.windows[k] = append(l.windows[k], l.now())
	} else {
		metrics.IncRateLimitDenied(string(kind), id)
	}
	return result
}

func evict(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[i:]...)
}
