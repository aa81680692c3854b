// internal/storage/storage.go
package storage

import "github.com/markerrelay/relay/pkg/core"

// Backend is the interface all history storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.SessionInfo) error
	EndSession() error

	// History recording
	RecordTransition(t *core.Transition) error
	RecordCycle(r *core.CycleReport) error
	RecordSnapshot(s *core.SnapshotEvent) error
}

// Exporter is an optional interface for backends that write a history file.
type Exporter interface {
	ExportedFilePath() string
}

// Nop discards all history.
type Nop struct{}

func (Nop) Init() error                              { return nil }
func (Nop) Close() error                             { return nil }
func (Nop) StartSession(*core.SessionInfo) error     { return nil }
func (Nop) EndSession() error                        { return nil }
func (Nop) RecordTransition(*core.Transition) error  { return nil }
func (Nop) RecordCycle(*core.CycleReport) error      { return nil }
func (Nop) RecordSnapshot(*core.SnapshotEvent) error { return nil }
