package worker

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/markerrelay/relay/internal/parser"
	"github.com/markerrelay/relay/internal/pipeline"
	"github.com/markerrelay/relay/internal/session"
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Processor     *pipeline.Processor
	Session       *session.Context
	ParserService parser.Service
	Logger        *slog.Logger
}

// Stats counts what the worker has handled.
type Stats struct {
	Frames          uint64
	MalformedFrames uint64
	SkippedCycles   uint64
	MapUpdates      uint64
}

// Manager turns dispatched events into pipeline work.
type Manager struct {
	deps    Dependencies
	backend any
	logger  *slog.Logger

	frames     atomic.Uint64
	malformed  atomic.Uint64
	skipped    atomic.Uint64
	mapUpdates atomic.Uint64
}

// NewManager creates a new worker manager. backend is the history backend in
// use, if any; it is only consulted for monitoring.
func NewManager(deps Dependencies, backend any) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:    deps,
		backend: backend,
		logger:  logger,
	}
}

// Stats returns a copy of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Frames:          m.frames.Load(),
		MalformedFrames: m.malformed.Load(),
		SkippedCycles:   m.skipped.Load(),
		MapUpdates:      m.mapUpdates.Load(),
	}
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}
