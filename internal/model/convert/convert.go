package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/markerrelay/relay/internal/model"
	"github.com/markerrelay/relay/pkg/core"
)

// SessionToCore converts a GORM model.Session to a core.SessionInfo.
func SessionToCore(s model.Session) core.SessionInfo {
	return core.SessionInfo{
		ID:         s.SessionUUID,
		Started:    s.StartTime,
		MapWidth:   s.MapWidth,
		MapHeight:  s.MapHeight,
		MapVersion: s.MapVersion,
	}
}

// TransitionToCore converts a GORM model.MarkerTransition to a core.Transition.
func TransitionToCore(m model.MarkerTransition) core.Transition {
	t := core.Transition{
		MarkerID: m.MarkerID,
		Kind:     core.TransitionKind(m.Kind),
		X:        m.X,
		Y:        m.Y,
		Rotation: m.Rotation,
		Cycle:    m.Cycle,
		Time:     m.Time,
		Reason:   m.Reason,
	}
	if m.Lat != nil && m.Lng != nil {
		t.Geo = &core.LatLng{Lat: *m.Lat, Lng: *m.Lng}
	}
	return t
}

// CycleStatToCore converts a GORM model.CycleStat to a core.CycleReport.
func CycleStatToCore(m model.CycleStat, sessionUUID string) core.CycleReport {
	return core.CycleReport{
		SessionID:       sessionUUID,
		Cycle:           m.Cycle,
		Time:            m.Time,
		Observations:    m.Observations,
		CornersSeen:     m.CornersSeen,
		HomographyOK:    m.HomographyOK,
		HomographyErr:   m.HomographyErr,
		Projected:       m.Projected,
		PoseFailures:    m.PoseFailures,
		Tracked:         m.Tracked,
		Duration:        time.Duration(float64(m.DurationMs) * float64(time.Millisecond)),
		SnapshotWritten: m.SnapshotWritten,
	}
}

// LayoutSnapshotToCore converts a GORM model.LayoutSnapshot to a core.SnapshotEvent.
func LayoutSnapshotToCore(m model.LayoutSnapshot) (core.SnapshotEvent, error) {
	ev := core.SnapshotEvent{Cycle: m.Cycle, Time: m.Time}
	if len(m.Markers) > 0 {
		var records []core.MarkerRecord
		if err := json.Unmarshal(m.Markers, &records); err != nil {
			return ev, fmt.Errorf("decoding snapshot markers: %w", err)
		}
		ev.Markers = core.NewSnapshot(records)
	}
	return ev, nil
}
