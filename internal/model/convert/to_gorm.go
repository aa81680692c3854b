// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/markerrelay/relay/internal/geo"
	"github.com/markerrelay/relay/internal/model"
	"github.com/markerrelay/relay/pkg/core"
)

// CoreToSession converts a core.SessionInfo to a GORM model.Session.
func CoreToSession(s core.SessionInfo) model.Session {
	return model.Session{
		SessionUUID: s.ID,
		StartTime:   s.Started,
		MapWidth:    s.MapWidth,
		MapHeight:   s.MapHeight,
		MapVersion:  s.MapVersion,
	}
}

// CoreToTransition converts a core.Transition to a GORM model.MarkerTransition.
// The web mercator point is only filled when the transition is georeferenced.
func CoreToTransition(t core.Transition, sessionID uint) model.MarkerTransition {
	m := model.MarkerTransition{
		Time:      t.Time,
		SessionID: sessionID,
		Cycle:     t.Cycle,
		MarkerID:  t.MarkerID,
		Kind:      string(t.Kind),
		Reason:    t.Reason,
		X:         t.X,
		Y:         t.Y,
		Rotation:  t.Rotation,
		Geo:       geom.NewEmptyPoint(geom.DimXY),
	}
	if t.Geo != nil {
		lat, lng := t.Geo.Lat, t.Geo.Lng
		m.Lat, m.Lng = &lat, &lng
		if p, err := geo.Coords3857From4326(lng, lat); err == nil {
			m.Geo = p
		}
	}
	return m
}

// CoreToCycleStat converts a core.CycleReport to a GORM model.CycleStat.
func CoreToCycleStat(r core.CycleReport, sessionID uint) model.CycleStat {
	return model.CycleStat{
		Time:            r.Time,
		SessionID:       sessionID,
		Cycle:           r.Cycle,
		Observations:    r.Observations,
		CornersSeen:     r.CornersSeen,
		HomographyOK:    r.HomographyOK,
		HomographyErr:   truncate(r.HomographyErr, 255),
		Projected:       r.Projected,
		PoseFailures:    r.PoseFailures,
		Tracked:         r.Tracked,
		DurationMs:      float32(r.Duration) / float32(time.Millisecond),
		SnapshotWritten: r.SnapshotWritten,
	}
}

// CoreToLayoutSnapshot converts a core.SnapshotEvent to a GORM model.LayoutSnapshot.
func CoreToLayoutSnapshot(s core.SnapshotEvent, sessionID uint) model.LayoutSnapshot {
	return model.LayoutSnapshot{
		Time:        s.Time,
		SessionID:   sessionID,
		Cycle:       s.Cycle,
		MarkerCount: len(s.Markers),
		Markers:     snapshotToJSON(s.Markers),
	}
}

// snapshotToJSON converts a core.Snapshot to datatypes.JSON for DB storage.
func snapshotToJSON(s core.Snapshot) datatypes.JSON {
	if len(s) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(s)
	return datatypes.JSON(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
