// Package monitor periodically records the relay's health to status.txt
// and the telemetry sink.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/markerrelay/relay/internal/influx"
	"github.com/markerrelay/relay/internal/syncer"
	"github.com/markerrelay/relay/internal/worker"
	"github.com/markerrelay/relay/pkg/core"
)

// DefaultInterval is used when Dependencies.Interval is not set.
const DefaultInterval = 5 * time.Second

// StatusFileName is written inside Dependencies.Dir.
const StatusFileName = "status.txt"

type (
	// TrackerSource counts markers on the map.
	TrackerSource interface{ Len() int }
	// CycleSource exposes the most recent cycle.
	CycleSource interface{ LastReport() core.CycleReport }
	// SyncSource exposes push counters.
	SyncSource interface{ Stats() syncer.Stats }
	// WorkerSource exposes frame counters and history write timing.
	WorkerSource interface {
		Stats() worker.Stats
		GetLastDBWriteDuration() time.Duration
	}
	// StatusSink receives each sample, usually the influx manager.
	StatusSink interface{ WriteStatus(influx.Status) error }
	// SessionSource identifies the running session.
	SessionSource interface {
		ID() string
		Calibration() core.MapCalibration
	}
)

// Dependencies holds all dependencies for the monitor service. Only Dir is
// required; missing sources leave their fields zero.
type Dependencies struct {
	Tracker  TrackerSource
	Cycles   CycleSource
	Syncer   SyncSource
	Worker   WorkerSource
	Session  SessionSource
	Sink     StatusSink
	Pending  func() int
	Dir      string
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Report is one status sample.
type Report struct {
	Time           time.Time    `json:"time"`
	Session        string       `json:"session,omitempty"`
	MapVersion     string       `json:"mapVersion,omitempty"`
	Tracked        int          `json:"tracked"`
	LastCycle      uint64       `json:"lastCycle"`
	HomographyOK   bool         `json:"homographyOk"`
	HomographyErr  string       `json:"homographyError,omitempty"`
	Sync           syncer.Stats `json:"sync"`
	Worker         worker.Stats `json:"worker"`
	PendingHistory int          `json:"pendingHistory"`
	LastDBWriteMs  float64      `json:"lastDbWriteMs"`
}

// Point converts the report for the telemetry sink.
func (r Report) Point() influx.Status {
	return influx.Status{
		Time:             r.Time,
		Tracked:          r.Tracked,
		LastCycle:        r.LastCycle,
		HomographyOK:     r.HomographyOK,
		Pushes:           r.Sync.Pushes,
		PushFailures:     r.Sync.Failures,
		PendingHistory:   r.PendingHistory,
		LastDBWriteMs:    r.LastDBWriteMs,
		FramesMalformed:  r.Worker.MalformedFrames,
		CyclesSkipped:    r.Worker.SkippedCycles,
		MapConfigUpdates: r.Worker.MapUpdates,
	}
}

// Service manages status monitoring
type Service struct {
	deps   Dependencies
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	s := &Service{deps: deps, clock: deps.Clock, logger: deps.Logger}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// StatusPath is where the status file is written.
func (s *Service) StatusPath() string {
	return filepath.Join(s.deps.Dir, StatusFileName)
}

// GetStatus samples every source.
func (s *Service) GetStatus() Report {
	r := Report{Time: s.clock.Now().UTC()}
	if s.deps.Session != nil {
		r.Session = s.deps.Session.ID()
		r.MapVersion = s.deps.Session.Calibration().Version
	}
	if s.deps.Tracker != nil {
		r.Tracked = s.deps.Tracker.Len()
	}
	if s.deps.Cycles != nil {
		last := s.deps.Cycles.LastReport()
		r.LastCycle = last.Cycle
		r.HomographyOK = last.HomographyOK
		r.HomographyErr = last.HomographyErr
	}
	if s.deps.Syncer != nil {
		r.Sync = s.deps.Syncer.Stats()
	}
	if s.deps.Worker != nil {
		r.Worker = s.deps.Worker.Stats()
		r.LastDBWriteMs = float64(s.deps.Worker.GetLastDBWriteDuration()) / float64(time.Millisecond)
	}
	if s.deps.Pending != nil {
		r.PendingHistory = s.deps.Pending()
	}
	return r
}

// WriteStatus samples once, rewrites the status file and forwards the
// sample to the sink.
func (s *Service) WriteStatus() error {
	r := s.GetStatus()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := os.MkdirAll(s.deps.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create status dir: %w", err)
	}
	if err := os.WriteFile(s.StatusPath(), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}

	if s.deps.Sink != nil {
		if err := s.deps.Sink.WriteStatus(r.Point()); err != nil {
			return fmt.Errorf("failed to send status: %w", err)
		}
	}
	return nil
}

// Start starts the status monitor goroutine. A second Start is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		ticker := s.clock.Ticker(s.deps.Interval)
		defer ticker.Stop()

		s.logger.Debug("Status monitor started", "interval", s.deps.Interval, "path", s.StatusPath())
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					s.logger.Error("Error writing status", "error", err)
				}
			}
		}
	}()
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
