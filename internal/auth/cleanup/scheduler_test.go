package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/amoylab/oauthd/internal/auth/token"
)

type stubCleaner struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
}

func (c *stubCleaner) CleanupExpiredTokens(ctx context.Context) (token.CleanupResult, error) {
	c.calls.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return token.CleanupResult{}, ctx.Err()
		}
	}
	return token.CleanupResult{TokensDeleted: 2, CodesDeleted: 1}, c.err
}

func TestRunOnce(t *testing.T) {
	c := &stubCleaner{}
	s := NewScheduler(zap.NewNop(), c, time.Hour, nil)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token.CleanupResult{TokensDeleted: 2, CodesDeleted: 1}, res)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestRunOnce_NoOverlap(t *testing.T) {
	c := &stubCleaner{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScheduler(zap.NewNop(), c, time.Hour, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-c.entered

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrInProgress)
	assert.False(t, s.Trigger(context.Background()))

	close(c.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestStartStop(t *testing.T) {
	c := &stubCleaner{}
	s := NewScheduler(zap.NewNop(), c, 10*time.Millisecond, nil)

	assert.False(t, s.IsRunning())
	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return c.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	after := c.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, c.calls.Load())

	s.Stop()
}

func TestFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := &stubCleaner{err: errors.New("store unavailable")}
	s := NewScheduler(zap.New(core), c, time.Hour, nil)

	s.runLogged(context.Background())

	entries := logs.FilterMessage("cleanup failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "store unavailable", entries[0].ContextMap()["error"])
}

func TestSampler(t *testing.T) {
	c := &stubCleaner{}
	s := NewScheduler(zap.NewNop(), c, time.Hour, nil)

	sampler := NewSampler(s, 0.01)
	sampler.roll = func() float64 { return 0.5 }
	assert.False(t, sampler.Maybe(context.Background()))

	sampler.roll = func() float64 { return 0.001 }
	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, sampler.Maybe(ctx))
	// the run outlives the request that triggered it
	cancel()
	assert.Eventually(t, func() bool { return c.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	off := NewSampler(s, 0)
	off.roll = func() float64 { return 0 }
	assert.False(t, off.Maybe(context.Background()))
}
