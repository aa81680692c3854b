package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/markerrelay/relay/internal/dispatcher"
	"github.com/markerrelay/relay/internal/worker"
	"github.com/markerrelay/relay/pkg/core"
)

// MapConfigFetcher retrieves the remote map configuration.
type MapConfigFetcher interface {
	FetchMapConfig(ctx context.Context) (core.MapCalibration, error)
}

// Refresher polls the map configuration and dispatches accepted updates.
// A failed or malformed fetch leaves the active configuration untouched.
type Refresher struct {
	fetcher  MapConfigFetcher
	d        Dispatcher
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Interval between polls; zero fetches once at startup only.
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(f MapConfigFetcher, d Dispatcher, cfg RefresherConfig) *Refresher {
	r := &Refresher{
		fetcher:  f,
		d:        d,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Second
	}
	return r
}

// Refresh fetches once and dispatches the result.
func (r *Refresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cal, err := r.fetcher.FetchMapConfig(ctx)
	if err != nil {
		r.logger.Warn("map config refresh failed, keeping current map", "error", err)
		return fmt.Errorf("refreshing map config: %w", err)
	}

	if _, err := r.d.Dispatch(dispatcher.Event{Command: worker.CommandMapConfig, Payload: cal}); err != nil {
		return fmt.Errorf("applying map config: %w", err)
	}
	return nil
}

// Run refreshes immediately, then on every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	_ = r.Refresh(ctx)
	if r.interval <= 0 {
		return
	}

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}
