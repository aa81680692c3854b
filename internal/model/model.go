package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&MarkerTransition{},
	&CycleStat{},
	&LayoutSnapshot{},
}

// Session is one run of the relay
type Session struct {
	ID          uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionUUID string     `json:"sessionId" gorm:"size:36;uniqueIndex:idx_session_uuid"`
	StartTime   time.Time  `json:"start" gorm:"index:idx_session_start"`
	EndTime     *time.Time `json:"end"`
	MapWidth    float64    `json:"mapWidth"`
	MapHeight   float64    `json:"mapHeight"`
	MapVersion  string     `json:"mapVersion" gorm:"size:64"`
}

func (*Session) TableName() string {
	return "sessions"
}

// MarkerTransition records a marker entering, moving on, or leaving the map
type MarkerTransition struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"index:idx_transition_time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_transition_session_id"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Cycle     uint64    `json:"cycle" gorm:"index:idx_transition_cycle"`

	MarkerID int     `json:"markerId" gorm:"index:idx_transition_marker_id"`
	Kind     string  `json:"kind" gorm:"size:8"`    // enter, update, exit
	Reason   string  `json:"reason" gorm:"size:32"` // exit reason
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"` // yaw in degrees

	// Geographic position, when the map has bounds
	Lat *float64   `json:"lat"`
	Lng *float64   `json:"lng"`
	Geo geom.Point `json:"-"` // EPSG:3857
}

func (*MarkerTransition) TableName() string {
	return "marker_transitions"
}

// CycleStat is the per-cycle processing summary
type CycleStat struct {
	ID              uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time `json:"time" gorm:"index:idx_cyclestat_time"`
	SessionID       uint      `json:"sessionId" gorm:"index:idx_cyclestat_session_id"`
	Session         Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Cycle           uint64    `json:"cycle"`
	Observations    int       `json:"observations"`
	CornersSeen     int       `json:"cornersSeen"`
	HomographyOK    bool      `json:"homographyOk"`
	HomographyErr   string    `json:"homographyErr" gorm:"size:255"`
	Projected       int       `json:"projected"`
	PoseFailures    int       `json:"poseFailures"`
	Tracked         int       `json:"tracked"`
	DurationMs      float32   `json:"durationMs"`
	SnapshotWritten bool      `json:"snapshotWritten"`
}

func (*CycleStat) TableName() string {
	return "cycle_stats"
}

// LayoutSnapshot is the full layout at a cycle where it changed
type LayoutSnapshot struct {
	ID          uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time        time.Time      `json:"time" gorm:"index:idx_snapshot_time"`
	SessionID   uint           `json:"sessionId" gorm:"index:idx_snapshot_session_id"`
	Session     Session        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Cycle       uint64         `json:"cycle"`
	MarkerCount int            `json:"markerCount"`
	Markers     datatypes.JSON `json:"markers"`
}

func (*LayoutSnapshot) TableName() string {
	return "layout_snapshots"
}
