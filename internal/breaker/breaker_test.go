package breaker

import (
	"errors"
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

func failWith(err error) func() error {
	return func() error { return err }
}

func TestFiveFailuresTripsOpen(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenProbes: 3}, nil)
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := r.Execute(DependencyCMS, failWith(boom))
		assert.Equal(t, boom, err)
	}

	assert.Equal(t, StateOpen, r.CurrentState(DependencyCMS))

	err := r.Execute(DependencyCMS, func() error {
		t.Fatal("fn should not be called while breaker is open")
		return nil
	})
	assert.True(t, pipeline.Is(err, pipeline.KindCircuitOpen))
}

func TestResetTimeoutMovesToHalfOpenThenCloses(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenProbes: 3}, nil)
	fixed := time.Now()
	r.now = func() time.Time { return fixed }

	boom := errors.New("boom")
	assert.Equal(t, boom, r.Execute(DependencyCMS, failWith(boom)))
	assert.Equal(t, StateOpen, r.CurrentState(DependencyCMS))

	r.now = func() time.Time { return fixed.Add(10 * time.Second) }
	err := r.Execute(DependencyCMS, func() error { return nil })
	assert.Error(t, err)
	assert.True(t, pipeline.Is(err, pipeline.KindCircuitOpen))

	r.now = func() time.Time { return fixed.Add(31 * time.Second) }
	for i := 0; i < 3; i++ {
		err := r.Execute(DependencyCMS, func() error { return nil })
		assert.NoError(t, err)
	}
	assert.Equal(t, StateClosed, r.CurrentState(DependencyCMS))
}

func TestHalfOpenFailureReturnsToOpen(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenProbes: 3}, nil)
	fixed := time.Now()
	r.now = func() time.Time { return fixed }

	boom := errors.New("boom")
	assert.Equal(t, boom, r.Execute(DependencyCMS, failWith(boom)))

	r.now = func() time.Time { return fixed.Add(31 * time.Second) }
	assert.Equal(t, boom, r.Execute(DependencyCMS, failWith(boom)))
	assert.Equal(t, StateOpen, r.CurrentState(DependencyCMS))
}

func TestPerDependencyOverride(t *testing.T) {
	t.Parallel()
	r := NewRegistry(DefaultConfig(), map[Dependency]Config{
		DependencyTranscriber: {FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenProbes: 1},
	})
	boom := errors.New("boom")
	assert.Equal(t, boom, r.Execute(DependencyTranscriber, failWith(boom)))
	assert.Equal(t, StateOpen, r.CurrentState(DependencyTranscriber))
	assert.Equal(t, StateClosed, r.CurrentState(DependencyCMS))
}

func TestIndependentDependenciesDoNotShareState(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenProbes: 3}, nil)
	boom := errors.New("boom")
	assert.Equal(t, boom, r.Execute(DependencyCMS, failWith(boom)))
	assert.Equal(t, StateOpen, r.CurrentState(DependencyCMS))
	assert.Equal(t, StateClosed, r.CurrentState(DependencyObjectStore))
}
