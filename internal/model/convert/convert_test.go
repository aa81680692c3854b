package convert

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/markerrelay/relay/internal/model"
	"github.com/markerrelay/relay/pkg/core"
)

var testTime = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func TestCoreToTransition_NoGeo(t *testing.T) {
	tr := core.Transition{
		MarkerID: 7, Kind: core.TransitionExit, X: 1.5, Y: 2.5, Rotation: -45,
		Cycle: 9, Time: testTime, Reason: core.ReasonOutOfBounds,
	}

	m := CoreToTransition(tr, 3)

	assert.Equal(t, uint(3), m.SessionID)
	assert.Equal(t, "exit", m.Kind)
	assert.Equal(t, "out_of_bounds", m.Reason)
	assert.Nil(t, m.Lat)
	assert.True(t, m.Geo.IsEmpty())

	back := TransitionToCore(m)
	if diff := cmp.Diff(tr, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCoreToTransition_Geo(t *testing.T) {
	tr := core.Transition{MarkerID: 7, Kind: core.TransitionEnter, Geo: &core.LatLng{Lat: 32.56, Lng: -117.08}}

	m := CoreToTransition(tr, 1)

	require.NotNil(t, m.Lat)
	require.NotNil(t, m.Lng)
	assert.Equal(t, 32.56, *m.Lat)
	assert.Equal(t, -117.08, *m.Lng)
	assert.False(t, m.Geo.IsEmpty())

	xy, ok := m.Geo.XY()
	require.True(t, ok)
	assert.Less(t, xy.X, -1.3e7)

	back := TransitionToCore(m)
	require.NotNil(t, back.Geo)
	assert.Equal(t, *tr.Geo, *back.Geo)
}

func TestCoreToCycleStat(t *testing.T) {
	r := core.CycleReport{
		SessionID: "abc", Cycle: 4, Time: testTime, Observations: 6, CornersSeen: 4,
		HomographyOK: true, Projected: 2, PoseFailures: 1, Tracked: 2,
		Duration: 1500 * time.Microsecond, SnapshotWritten: true,
	}

	m := CoreToCycleStat(r, 2)
	assert.InDelta(t, 1.5, m.DurationMs, 1e-6)

	back := CycleStatToCore(m, "abc")
	assert.Equal(t, r, back)
}

func TestCoreToCycleStat_TruncatesError(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	m := CoreToCycleStat(core.CycleReport{HomographyErr: string(long)}, 1)
	assert.Len(t, m.HomographyErr, 255)
}

func TestLayoutSnapshot_RoundTrip(t *testing.T) {
	ev := core.SnapshotEvent{
		Cycle: 12, Time: testTime,
		Markers: core.Snapshot{{ID: 3, X: 1, Y: 2, Rotation: 90}, {ID: 8, X: 4, Y: 5, Rotation: 0}},
	}

	m := CoreToLayoutSnapshot(ev, 1)
	assert.Equal(t, 2, m.MarkerCount)
	assert.JSONEq(t, `[{"id":3,"x":1,"y":2,"rotation":90},{"id":8,"x":4,"y":5,"rotation":0}]`, string(m.Markers))

	back, err := LayoutSnapshotToCore(m)
	require.NoError(t, err)
	assert.Equal(t, ev, back)
}

func TestLayoutSnapshot_Empty(t *testing.T) {
	m := CoreToLayoutSnapshot(core.SnapshotEvent{Cycle: 1}, 1)
	assert.Equal(t, datatypes.JSON("[]"), m.Markers)

	back, err := LayoutSnapshotToCore(m)
	require.NoError(t, err)
	assert.Empty(t, back.Markers)
}

func TestLayoutSnapshotToCore_Invalid(t *testing.T) {
	_, err := LayoutSnapshotToCore(model.LayoutSnapshot{Markers: datatypes.JSON(`{`)})
	assert.Error(t, err)
}

func TestSession_RoundTrip(t *testing.T) {
	s := core.SessionInfo{ID: "uuid", Started: testTime, MapWidth: 35, MapHeight: 23, MapVersion: "v2"}
	assert.Equal(t, s, SessionToCore(CoreToSession(s)))
}
