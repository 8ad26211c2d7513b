package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Universal property 4: after failure_threshold consecutive failures the
// next call fails fast with Open; after timeout, a single HalfOpen call is
// permitted; success_threshold consecutive successes transition to Closed.
func TestCircuitBreaker_FullLifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, OpenTimeout: 10 * time.Second, SuccessThreshold: 2}, clock)

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.True(t, cb.Allow())
		cb.RecordResult(failing)
	}
	require.Equal(t, StateOpen, cb.State())

	assert.False(t, cb.Allow())
	err := cb.Guard(func() error { return nil })
	assert.ErrorIs(t, err, types.ErrCircuitOpen)

	now = now.Add(10 * time.Second)
	assert.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordResult(nil)
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordResult(nil)
	assert.Equal(t, StateClosed, cb.State())
}

// A failure observed while HalfOpen re-trips immediately rather than
// requiring a fresh failure_threshold count.
func TestCircuitBreaker_HalfOpenFailureRetrips(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second, SuccessThreshold: 1}, clock)

	cb.RecordResult(errors.New("boom"))
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Second)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordResult(errors.New("still broken"))
	assert.Equal(t, StateOpen, cb.State())
}
