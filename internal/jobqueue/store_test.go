package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueIdempotentByJobID(t *testing.T) {
	t.Parallel()
	s := NewStore(DefaultRetentionPolicy())
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, "fetch", "payload-a", EnqueueOptions{JobID: "fixed", AttemptsMax: 3})
	require.NoError(t, err)
	id2, err := s.Enqueue(ctx, "fetch", "payload-b", EnqueueOptions{JobID: "fixed", AttemptsMax: 3})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.Counts(ctx, "fetch").Waiting)
}

func TestReserveCompleteLifecycle(t *testing.T) {
	t.Parallel()
	s := NewStore(DefaultRetentionPolicy())
	ctx := context.Background()

	jobID, err := s.Enqueue(ctx, "normalize", "payload", EnqueueOptions{AttemptsMax: 2})
	require.NoError(t, err)

	env, err := s.Reserve(ctx, "normalize", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, jobID, env.JobID)
	assert.Equal(t, StateActive, env.State)

	none, err := s.Reserve(ctx, "normalize", "worker-2")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.Complete(ctx, "normalize", jobID, "ok"))
	counts := s.Counts(ctx, "normalize")
	assert.Equal(t, 0, counts.Active)
	assert.Equal(t, 1, counts.Completed)
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	s := NewStore(DefaultRetentionPolicy())
	s.visibility = time.Millisecond
	ctx := context.Background()

	jobID, err := s.Enqueue(ctx, "media", "payload", EnqueueOptions{
		AttemptsMax: 2,
		Backoff:     Backoff{Base: time.Millisecond, Max: time.Millisecond},
	})
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "media", "worker-1")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "media", jobID, "boom"))

	// First failure still has a retry budget remaining: delayed, not dead-lettered.
	assert.Empty(t, s.DeadLetters("media"))

	time.Sleep(5 * time.Millisecond)
	env, err := s.Reserve(ctx, "media", "worker-2")
	require.NoError(t, err)
	require.NotNil(t, env)
	require.NoError(t, s.Fail(ctx, "media", jobID, "boom again"))

	dls := s.DeadLetters("media")
	require.Len(t, dls, 1)
	assert.Equal(t, "media", dls[0].OriginalQueue)
	assert.Equal(t, jobID, dls[0].OriginalJobID)
}

func TestScheduleRepeatingReplacesByName(t *testing.T) {
	t.Parallel()
	s := NewStore(DefaultRetentionPolicy())
	ctx := context.Background()

	s.ScheduleRepeating(ctx, "feed-1", "fetch", "payload-v1", 5*time.Millisecond, EnqueueOptions{AttemptsMax: 1})
	time.Sleep(12 * time.Millisecond)
	s.ScheduleRepeating(ctx, "feed-1", "fetch", "payload-v2", 5*time.Millisecond, EnqueueOptions{AttemptsMax: 1})
	time.Sleep(12 * time.Millisecond)
	s.CancelRepeating("feed-1")

	counts := s.Counts(ctx, "fetch")
	assert.Greater(t, counts.Waiting, 0)
}

func TestStalledLeaseReturnsToWaiting(t *testing.T) {
	t.Parallel()
	s := NewStore(DefaultRetentionPolicy())
	s.visibility = time.Millisecond
	ctx := context.Background()

	jobID, err := s.Enqueue(ctx, "enrichment", "payload", EnqueueOptions{AttemptsMax: 3})
	require.NoError(t, err)
	_, err = s.Reserve(ctx, "enrichment", "worker-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	env, err := s.Reserve(ctx, "enrichment", "worker-2")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, jobID, env.JobID)
	assert.Equal(t, 2, env.Attempt)
}
