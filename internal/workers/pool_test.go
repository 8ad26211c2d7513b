package workers

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPool(t *testing.T, workers int) *Pool {
	t.Helper()
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = workers
	cfg.QueueSize = 16
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestSubmitFunc_ExecutesOnAWorker(t *testing.T) {
	p := testPool(t, 2)
	var ran atomic.Bool

	require.NoError(t, p.SubmitFunc(func() error {
		ran.Store(true)
		return nil
	}))

	assert.Eventually(t, ran.Load, time.Second, 10*time.Millisecond)
}

func TestSubmitWait_ReturnsTheTaskErrorSynchronously(t *testing.T) {
	p := testPool(t, 2)
	wantErr := errors.New("boom")

	err := p.SubmitWait(TaskFunc(func() error { return wantErr }))
	assert.ErrorIs(t, err, wantErr)
}

func TestPool_RunsManySubmissionsConcurrently(t *testing.T) {
	p := testPool(t, 4)
	const n = 50
	var completed atomic.Int64

	for i := 0; i < n; i++ {
		require.NoError(t, p.SubmitFunc(func() error {
			completed.Add(1)
			return nil
		}))
	}

	assert.Eventually(t, func() bool { return completed.Load() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestStop_RejectsSubmissionsAfterShutdown(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	cfg.QueueSize = 4
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	require.NoError(t, p.Stop())

	err := p.SubmitFunc(func() error { return nil })
	assert.Error(t, err)
}
