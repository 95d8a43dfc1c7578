package jobqueue

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes a jittered exponential delay, the same formula the
// crawler's retry policy used for per-request retries, generalized here to
// govern job re-queue delay instead of a single HTTP retry.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the crawler's ExponentialRetryPolicy defaults.
func DefaultBackoff() Backoff {
	return Backoff{Base: 250 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait before the given attempt (1-indexed) runs again.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	half := delay / 2
	return time.Duration(half) + randomJitter(time.Duration(half))
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
