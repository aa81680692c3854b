// pkg/core/transition.go
package core

import "time"

// TransitionKind names a lifecycle change of a single marker.
type TransitionKind string

const (
	TransitionEnter  TransitionKind = "enter"
	TransitionUpdate TransitionKind = "update"
	TransitionExit   TransitionKind = "exit"
)

// Exit reasons
const (
	ReasonMissing      = "missing"
	ReasonOutOfBounds  = "out_of_bounds"
	ReasonRecalibrated = "recalibrated"
)

// Transition records one marker entering, moving on, or leaving the map.
type Transition struct {
	MarkerID int
	Kind     TransitionKind
	X        float64
	Y        float64
	Rotation float64
	Cycle    uint64
	Time     time.Time
	Reason   string

	// Geo is set when the map has geographic bounds.
	Geo *LatLng
}

// CycleReport summarizes one processing cycle.
type CycleReport struct {
	SessionID       string
	Cycle           uint64
	Time            time.Time
	Observations    int
	CornersSeen     int
	HomographyOK    bool
	HomographyErr   string
	Projected       int
	PoseFailures    int
	Tracked         int
	Duration        time.Duration
	SnapshotWritten bool
}
