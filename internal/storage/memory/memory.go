// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/markerrelay/relay/internal/config"
	"github.com/markerrelay/relay/pkg/core"
)

// ErrNoSession is returned when exporting before StartSession.
var ErrNoSession = errors.New("no session started")

// MarkerRecord groups a marker with all its lifecycle transitions
type MarkerRecord struct {
	MarkerID    int
	Transitions []core.Transition
}

// Backend stores session history in memory and exports it to JSON
type Backend struct {
	cfg     config.MemoryConfig
	log     *slog.Logger
	session *core.SessionInfo

	markers   map[int]*MarkerRecord // keyed by marker ID
	cycles    []core.CycleReport
	snapshots []core.SnapshotEvent

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		cfg:     cfg,
		log:     log,
		markers: make(map[int]*MarkerRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the session if one is still open
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	return b.exportLocked()
}

// StartSession begins recording a new session
func (b *Backend) StartSession(s *core.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *s
	b.session = &cp

	// Reset all collections
	b.markers = make(map[int]*MarkerRecord)
	b.cycles = nil
	b.snapshots = nil
	return nil
}

// EndSession finalizes and exports the session history
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	return b.exportLocked()
}

func (b *Backend) exportLocked() error {
	path, err := WriteExport(b.cfg.OutputDir, Build(*b.session, b.transitionsLocked(), b.cycles, b.snapshots), b.cfg.CompressOutput)
	if err != nil {
		return err
	}
	b.lastExportPath = path
	b.session = nil
	b.log.Info("Exported session history", "path", path)
	return nil
}

// RecordTransition appends a transition to its marker's record
func (b *Backend) RecordTransition(t *core.Transition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.markers[t.MarkerID]
	if !ok {
		record = &MarkerRecord{MarkerID: t.MarkerID}
		b.markers[t.MarkerID] = record
	}
	record.Transitions = append(record.Transitions, *t)
	return nil
}

// RecordCycle appends a cycle report
func (b *Backend) RecordCycle(r *core.CycleReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cycles = append(b.cycles, *r)
	return nil
}

// RecordSnapshot appends a changed layout
func (b *Backend) RecordSnapshot(s *core.SnapshotEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := *s
	ev.Markers = s.Markers.Clone()
	b.snapshots = append(b.snapshots, ev)
	return nil
}

// GetMarker returns a copy of the record for one marker
func (b *Backend) GetMarker(id int) (MarkerRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.markers[id]
	if !ok {
		return MarkerRecord{}, false
	}
	out := MarkerRecord{MarkerID: record.MarkerID}
	out.Transitions = append(out.Transitions, record.Transitions...)
	return out, true
}

// Counts returns how many transitions, cycles and snapshots are held
func (b *Backend) Counts() (transitions, cycles, snapshots int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.markers {
		transitions += len(r.Transitions)
	}
	return transitions, len(b.cycles), len(b.snapshots)
}

// ExportedFilePath returns the path of the last export, empty if none
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

func (b *Backend) transitionsLocked() []core.Transition {
	var out []core.Transition
	for _, r := range b.markers {
		out = append(out, r.Transitions...)
	}
	return out
}
