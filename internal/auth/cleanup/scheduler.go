package cleanup

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/auth/token"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/pkg/metrics"
	"github.com/amoylab/oauthd/pkg/trace"
)

// ErrInProgress is returned by RunOnce while another run is active
var ErrInProgress = errors.New("cleanup already in progress")

// runTimeout bounds a single run started outside of a request
const runTimeout = 5 * time.Minute

// Cleaner removes expired credentials
type Cleaner interface {
	CleanupExpiredTokens(ctx context.Context) (token.CleanupResult, error)
}

// Scheduler sweeps expired tokens and codes on a fixed interval. Runs never
// overlap; failures are logged and the next tick tries again.
type Scheduler struct {
	logger   *zap.Logger
	cleaner  Cleaner
	interval time.Duration
	metrics  *metrics.Metrics
	tracer   *trace.Builder

	running atomic.Bool
	busy    atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. m may be nil.
func NewScheduler(logger *zap.Logger, cleaner Cleaner, interval time.Duration, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		logger:   logger.Named("auth.cleanup"),
		cleaner:  cleaner,
		interval: interval,
		metrics:  m,
		tracer:   trace.Tracer(cnst.TraceCleanup),
	}
}

// Start launches the background loop. Calling Start on a running scheduler
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("cleanup scheduler started", zap.Duration("interval", s.interval))
}

// Stop ends the loop and waits for an in-flight run to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.cancel()
	<-s.done
	s.running.Store(false)
	s.logger.Info("cleanup scheduler stopped")
}

// IsRunning reports whether the background loop is active
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

// RunOnce performs one sweep synchronously
func (s *Scheduler) RunOnce(ctx context.Context) (token.CleanupResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return token.CleanupResult{}, ErrInProgress
	}
	defer s.busy.Store(false)

	sc := s.tracer.Start(ctx, cnst.SpanCleanupRun)
	defer sc.End()

	start := time.Now()
	res, err := s.cleaner.CleanupExpiredTokens(sc.Ctx)
	s.metrics.CleanupDone(res.TokensDeleted, res.CodesDeleted, start)
	sc.WithAttrs(attribute.Int(cnst.AttrDeleted, res.TokensDeleted+res.CodesDeleted)).Fail(err)
	return res, err
}

// Trigger starts a detached run unless one is already active. It never
// blocks the caller and reports whether a run was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if s.busy.Load() {
		return false
	}
	go s.runLogged(context.WithoutCancel(ctx))
	return true
}

func (s *Scheduler) runLogged(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrInProgress):
		s.logger.Debug("skipped cleanup, previous run still active")
	case err != nil:
		s.logger.Error("cleanup failed",
			zap.Error(err),
			zap.Int("tokens_deleted", res.TokensDeleted),
			zap.Int("codes_deleted", res.CodesDeleted))
	case res.TokensDeleted+res.CodesDeleted > 0:
		s.logger.Info("removed expired credentials",
			zap.Int("tokens_deleted", res.TokensDeleted),
			zap.Int("codes_deleted", res.CodesDeleted))
	}
}

// Sampler triggers a cleanup on a small fraction of requests
type Sampler struct {
	scheduler *Scheduler
	rate      float64
	roll      func() float64
}

// NewSampler creates a sampler firing with probability rate per call
func NewSampler(scheduler *Scheduler, rate float64) *Sampler {
	return &Sampler{
		scheduler: scheduler,
		rate:      trace.ClampRate(rate),
		roll:      rand.Float64,
	}
}

// Maybe rolls the dice and, on a hit, starts a background run
func (s *Sampler) Maybe(ctx context.Context) bool {
	if s.rate <= 0 || s.roll() >= s.rate {
		return false
	}
	return s.scheduler.Trigger(ctx)
}
