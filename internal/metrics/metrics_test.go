package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitIsIdempotentAndUsable(t *testing.T) {
	Init()
	Init()

	ObserveJob("fetch", "completed", 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(jobsTotal.WithLabelValues("fetch", "completed")))

	IncActiveWorkers("media")
	DecActiveWorkers("media")

	IncRateLimitDenied("FEED", "src-1")
	assert.Equal(t, float64(1), testutil.ToFloat64(rateLimitDeniedTotal.WithLabelValues("FEED", "src-1")))

	ObserveRateLimitDelay("example.com", 2*time.Millisecond)

	SetBreakerState("CMS", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(breakerStateGauge.WithLabelValues("CMS")))

	IncBreakerTrip("CMS")
	assert.Equal(t, float64(1), testutil.ToFloat64(breakerTripsTotal.WithLabelValues("CMS")))

	IncDedupDuplicate("FEED")
	AddNormalizeCounter("filtered", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(normalizeCountersTotal.WithLabelValues("filtered")))

	IncDLQ("media")
	assert.Equal(t, float64(1), testutil.ToFloat64(dlqTotal.WithLabelValues("media")))
}
