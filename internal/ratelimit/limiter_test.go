package ratelimit

import (
	"os"
	"testing"
	"time"

	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func TestConsumeAllowsUpToMaxThenDenies(t *testing.T) {
	t.Parallel()
	l := New(map[pipeline.SourceKind]Rule{
		pipeline.SourceKindFeed: {MaxRequests: 3, Window: time.Minute},
	})

	for i := 0; i < 3; i++ {
		result := l.Consume(pipeline.SourceKindFeed, "src-1")
		assert.True(t, result.Allowed, "request %d should be allowed", i)
	}
	denied := l.Consume(pipeline.SourceKindFeed, "src-1")
	assert.False(t, denied.Allowed)
	assert.LessOrEqual(t, denied.ResetMs, int64(time.Minute/time.Millisecond))
}

func TestWindowSlidesPastEvictsOldHits(t *testing.T) {
	t.Parallel()
	l := New(map[pipeline.SourceKind]Rule{
		pipeline.SourceKindFeed: {MaxRequests: 1, Window: 10 * time.Millisecond},
	})
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	first := l.Consume(pipeline.SourceKindFeed, "src-1")
	assert.True(t, first.Allowed)

	l.now = func() time.Time { return fixed.Add(5 * time.Millisecond) }
	denied := l.Consume(pipeline.SourceKindFeed, "src-1")
	assert.False(t, denied.Allowed)

	l.now = func() time.Time { return fixed.Add(11 * time.Millisecond) }
	allowedAgain := l.Consume(pipeline.SourceKindFeed, "src-1")
	assert.True(t, allowedAgain.Allowed)
}

func TestDifferentSourcesIndependentWindows(t *testing.T) {
	t.Parallel()
	l := New(map[pipeline.SourceKind]Rule{
		pipeline.SourceKindFeed: {MaxRequests: 1, Window: time.Minute},
	})
	assert.True(t, l.Consume(pipeline.SourceKindFeed, "a").Allowed)
	assert.True(t, l.Consume(pipeline.SourceKindFeed, "b").Allowed)
}
