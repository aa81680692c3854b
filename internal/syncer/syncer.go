// Package syncer relays the tracked layout to the remote service on a fixed
// schedule, suppressing pushes whose content has not changed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/metric"

	"github.com/markerrelay/relay/pkg/core"
)

// DefaultInterval is the push cadence when none is configured.
const DefaultInterval = time.Second

// ErrNotRunning is returned by Stop when the scheduler was never started.
var ErrNotRunning = errors.New("scheduler not running")

// Source supplies an owned copy of the current layout.
type Source interface {
	Snapshot() core.Snapshot
}

// Pusher delivers a snapshot. A nil error means the remote accepted it.
type Pusher interface {
	PushSnapshot(ctx context.Context, s core.Snapshot) error
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Ticks               uint64
	Pushes              uint64
	Failures            uint64
	Unchanged           uint64
	BackedOff           uint64
	ConsecutiveFailures int
	LastPush            time.Time
	LastError           string
	LastSentCount       int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxBackoff enables exponential backoff after consecutive failures,
// capped at d. Zero keeps a retry on every tick.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxBackoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler pushes the latest snapshot when it differs from the last one the
// remote acknowledged.
type Scheduler struct {
	src        Source
	pusher     Pusher
	clock      clock.Clock
	interval   time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	mu          sync.Mutex
	lastSent    core.Snapshot
	lastFailure time.Time
	stats       Stats

	pushCounter    metric.Int64Counter
	failureCounter metric.Int64Counter
	pushLatency    metric.Float64Histogram

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler reading from src and delivering through p.
func New(src Source, p Pusher, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		src:      src,
		pusher:   p,
		clock:    clock.New(),
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	m := meter()
	var err error
	s.pushCounter, err = m.Int64Counter(
		"syncer.pushes",
		metric.WithDescription("Snapshots accepted by the remote service"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push counter: %w", err)
	}
	s.failureCounter, err = m.Int64Counter(
		"syncer.failures",
		metric.WithDescription("Snapshot pushes that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}
	s.pushLatency, err = m.Float64Histogram(
		"syncer.push.duration",
		metric.WithDescription("Snapshot push latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push latency histogram: %w", err)
	}

	return s, nil
}

// Tick performs one sync step. It returns the push error, if a push was
// attempted and failed. Failures are never fatal; the baseline is left as is
// and the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) error {
	snap := s.src.Snapshot()
	now := s.clock.Now()

	s.mu.Lock()
	s.stats.Ticks++
	if snap.Equal(s.lastSent) {
		// The remote already holds this layout; pending failures are moot.
		s.stats.Unchanged++
		s.stats.ConsecutiveFailures = 0
		s.stats.LastError = ""
		s.lastFailure = time.Time{}
		s.mu.Unlock()
		return nil
	}
	if s.backingOff(now) {
		s.stats.BackedOff++
		s.mu.Unlock()
		return nil
	}
	prev := s.lastSent
	s.mu.Unlock()

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("layout changed", "diff", cmp.Diff(prev, snap))
	}

	start := time.Now()
	err := s.pusher.PushSnapshot(ctx, snap)
	s.pushLatency.Record(context.Background(), float64(time.Since(start).Microseconds())/1000)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Failures++
		s.stats.ConsecutiveFailures++
		s.stats.LastError = err.Error()
		s.lastFailure = now
		s.failureCounter.Add(context.Background(), 1)
		s.logger.Warn("snapshot push failed", "markers", len(snap), "attempt", s.stats.ConsecutiveFailures, "error", err)
		return err
	}

	s.lastSent = snap
	s.stats.Pushes++
	s.stats.ConsecutiveFailures = 0
	s.stats.LastError = ""
	s.stats.LastPush = now
	s.stats.LastSentCount = len(snap)
	s.pushCounter.Add(context.Background(), 1)
	s.logger.Info("snapshot pushed", "markers", len(snap))
	return nil
}

// backingOff reports whether the retry should wait. Caller holds s.mu.
func (s *Scheduler) backingOff(now time.Time) bool {
	n := s.stats.ConsecutiveFailures
	if s.maxBackoff <= 0 || n == 0 {
		return false
	}
	delay := s.maxBackoff
	if n < 32 {
		if d := s.interval << (n - 1); d > 0 && d < s.maxBackoff {
			delay = d
		}
	}
	return now.Before(s.lastFailure.Add(delay))
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Tick(ctx)
		}
	}
}

// Start runs the scheduler on its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stop cancels the run context, which aborts an in-flight push, and waits
// for the loop to exit.
func (s *Scheduler) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return ErrNotRunning
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	return nil
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LastSent returns a copy of the last acknowledged snapshot.
func (s *Scheduler) LastSent() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent.Clone()
}
