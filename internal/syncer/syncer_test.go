package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerrelay/relay/internal/api"
	"github.com/markerrelay/relay/pkg/core"
)

type fakeSource struct {
	mu   sync.Mutex
	snap core.Snapshot
}

func (f *fakeSource) Snapshot() core.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeSource) set(s core.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

type fakePusher struct {
	mu    sync.Mutex
	calls []core.Snapshot
	err   error
	push  func(ctx context.Context) error
}

func (f *fakePusher) PushSnapshot(ctx context.Context, s core.Snapshot) error {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	err, push := f.err, f.push
	f.mu.Unlock()
	if push != nil {
		return push(ctx)
	}
	return err
}

func (f *fakePusher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func layout(ids ...int) core.Snapshot {
	s := make(core.Snapshot, 0, len(ids))
	for _, id := range ids {
		s = append(s, core.MarkerRecord{ID: id, X: float64(id), Y: 1, Rotation: 0})
	}
	return s
}

func newScheduler(t *testing.T, src Source, p Pusher, opts ...Option) (*Scheduler, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s, err := New(src, p, append([]Option{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	return s, mock
}

func TestTick_EmptyInitialLayoutIsNotPushed(t *testing.T) {
	src := &fakeSource{}
	p := &fakePusher{}
	s, _ := newScheduler(t, src, p)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 0, p.count())
	assert.Equal(t, uint64(1), s.Stats().Unchanged)
}

func TestTick_NoPushWhenUnchanged(t *testing.T) {
	src := &fakeSource{snap: layout(4, 8)}
	p := &fakePusher{}
	s, _ := newScheduler(t, src, p)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}

	assert.Equal(t, 1, p.count())
	stats := s.Stats()
	assert.Equal(t, uint64(10), stats.Ticks)
	assert.Equal(t, uint64(1), stats.Pushes)
	assert.Equal(t, uint64(9), stats.Unchanged)
	assert.Equal(t, 2, stats.LastSentCount)
}

func TestTick_PushesOnChange(t *testing.T) {
	src := &fakeSource{snap: layout(4)}
	p := &fakePusher{}
	s, _ := newScheduler(t, src, p)

	require.NoError(t, s.Tick(context.Background()))
	src.set(core.Snapshot{{ID: 4, X: 4, Y: 1, Rotation: 12}})
	require.NoError(t, s.Tick(context.Background()))

	require.Equal(t, 2, p.count())
	assert.Equal(t, 12.0, p.calls[1][0].Rotation)
}

func TestTick_EmptyLayoutPushedAfterRemoval(t *testing.T) {
	src := &fakeSource{snap: layout(7)}
	p := &fakePusher{}
	s, _ := newScheduler(t, src, p)

	require.NoError(t, s.Tick(context.Background()))
	src.set(nil)
	require.NoError(t, s.Tick(context.Background()))

	require.Equal(t, 2, p.count())
	assert.Empty(t, p.calls[1])
	assert.Empty(t, s.LastSent())
}

func TestTick_FailedPushRetriedNextTick(t *testing.T) {
	src := &fakeSource{snap: layout(1, 2)}
	p := &fakePusher{err: api.ErrNetworkTimeout}
	s, _ := newScheduler(t, src, p)

	err := s.Tick(context.Background())
	assert.ErrorIs(t, err, api.ErrNetworkTimeout)
	assert.Empty(t, s.LastSent(), "baseline must not move on failure")

	p.setErr(&api.StatusError{Code: 503})
	err = s.Tick(context.Background())
	assert.ErrorIs(t, err, api.ErrNetworkStatus)

	p.setErr(nil)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, layout(1, 2), s.LastSent())

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 3, p.count())

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Failures)
	assert.Equal(t, uint64(1), stats.Pushes)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
	assert.Empty(t, stats.LastError)
}

func TestTick_BaselineOnlyOnSuccess(t *testing.T) {
	src := &fakeSource{snap: layout(3)}
	p := &fakePusher{}
	s, _ := newScheduler(t, src, p)

	require.NoError(t, s.Tick(context.Background()))

	src.set(layout(3, 9))
	p.setErr(api.ErrNetworkTransport)
	assert.Error(t, s.Tick(context.Background()))
	assert.Equal(t, layout(3), s.LastSent())

	// Reverting to the acknowledged layout needs no push.
	src.set(layout(3))
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 2, p.count())
}

func TestTick_Backoff(t *testing.T) {
	src := &fakeSource{snap: layout(1)}
	p := &fakePusher{err: api.ErrNetworkTransport}
	s, mock := newScheduler(t, src, p, WithInterval(time.Second), WithMaxBackoff(4*time.Second))

	attempt := func() {
		_ = s.Tick(context.Background())
		mock.Add(time.Second)
	}

	// Failure 1 at t=0 waits 1s, failure 2 at t=1 waits 2s,
	// failure 3 at t=3 waits 4s, failure 4 at t=7 would wait 8s but is capped.
	for i := 0; i < 11; i++ {
		attempt()
	}

	assert.Equal(t, 4, p.count())
	stats := s.Stats()
	assert.Equal(t, uint64(4), stats.Failures)
	assert.Equal(t, uint64(7), stats.BackedOff)
}

func TestTick_RevertedLayoutClearsBackoff(t *testing.T) {
	src := &fakeSource{snap: layout(1)}
	p := &fakePusher{}
	s, mock := newScheduler(t, src, p, WithInterval(time.Second), WithMaxBackoff(time.Minute))
	require.NoError(t, s.Tick(context.Background()))

	src.set(layout(1, 2))
	p.setErr(api.ErrNetworkTransport)
	require.Error(t, s.Tick(context.Background()))
	mock.Add(time.Second)
	require.Error(t, s.Tick(context.Background()))
	require.Equal(t, 2, s.Stats().ConsecutiveFailures)

	// Marker 2 leaves again before any retry got through.
	src.set(layout(1))
	p.setErr(nil)
	require.NoError(t, s.Tick(context.Background()))
	stats := s.Stats()
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.Empty(t, stats.LastError)

	// The next change is pushed at once rather than waiting out the old backoff.
	src.set(layout(1, 3))
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 4, p.count())
	assert.Equal(t, layout(1, 3), p.calls[3])
	assert.Zero(t, s.Stats().BackedOff)
}

func TestTick_NoBackoffByDefault(t *testing.T) {
	src := &fakeSource{snap: layout(1)}
	p := &fakePusher{err: api.ErrNetworkTransport}
	s, mock := newScheduler(t, src, p)

	for i := 0; i < 5; i++ {
		_ = s.Tick(context.Background())
		mock.Add(time.Second)
	}
	assert.Equal(t, 5, p.count())
	assert.Zero(t, s.Stats().BackedOff)
}

func TestRun_TicksOnInterval(t *testing.T) {
	src := &fakeSource{snap: layout(5)}
	p := &fakePusher{}
	s, mock := newScheduler(t, src, p, WithInterval(time.Second))

	s.Start(context.Background())
	defer func() { _ = s.Stop() }()

	// Give the loop a moment to create its ticker before advancing.
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return p.count() == 1
	}, time.Second, 10*time.Millisecond)

	src.set(layout(5, 6))
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return p.count() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestStop_AbortsInFlightPush(t *testing.T) {
	src := &fakeSource{snap: layout(2)}
	entered := make(chan struct{})
	p := &fakePusher{push: func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}}
	s, mock := newScheduler(t, src, p, WithInterval(time.Second))

	s.Start(context.Background())

	go func() {
		for {
			select {
			case <-entered:
				return
			default:
				mock.Add(time.Second)
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("push never started")
	}

	require.NoError(t, s.Stop())

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Contains(t, stats.LastError, context.Canceled.Error())
	assert.Empty(t, s.LastSent())
}

func TestStop_NotRunning(t *testing.T) {
	s, _ := newScheduler(t, &fakeSource{}, &fakePusher{})
	assert.True(t, errors.Is(s.Stop(), ErrNotRunning))
}
