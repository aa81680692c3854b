package pipeline

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerrelay/relay/internal/geometry"
	"github.com/markerrelay/relay/internal/parser"
	"github.com/markerrelay/relay/internal/snapshot"
	"github.com/markerrelay/relay/internal/tracker"
	"github.com/markerrelay/relay/pkg/core"
)

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []core.Transition
	cycles      []core.CycleReport
	snapshots   []core.SnapshotEvent
}

func (r *fakeRecorder) RecordTransition(t *core.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, *t)
	return nil
}

func (r *fakeRecorder) RecordCycle(c *core.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, *c)
	return nil
}

func (r *fakeRecorder) RecordSnapshot(s *core.SnapshotEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, *s)
	return nil
}

type fakeTelemetry struct {
	reports []core.CycleReport
}

func (f *fakeTelemetry) WriteCycle(r core.CycleReport) {
	f.reports = append(f.reports, r)
}

type fakeEstimator struct {
	pose core.Pose
	err  error
}

func (f fakeEstimator) Estimate([4]r2.Point) (core.Pose, error) {
	return f.pose, f.err
}

type countingWriter struct {
	writes []core.Snapshot
}

func (w *countingWriter) Write(s core.Snapshot) error {
	w.writes = append(w.writes, s)
	return nil
}

// marker builds an axis-aligned square whose first corner is at p.
func marker(id int, p r2.Point, side float64) core.MarkerObservation {
	return core.MarkerObservation{
		ID: id,
		Corners: [4]r2.Point{
			p,
			{X: p.X + side, Y: p.Y},
			{X: p.X + side, Y: p.Y + side},
			{X: p.X, Y: p.Y + side},
		},
	}
}

// centered builds an axis-aligned square centred on c.
func centered(id int, c r2.Point, side float64) core.MarkerObservation {
	return marker(id, r2.Point{X: c.X - side/2, Y: c.Y - side/2}, side)
}

// boardCorners places the four reserved markers at the corners of a
// 100x100 pixel view of the board.
func boardCorners() []core.MarkerObservation {
	return []core.MarkerObservation{
		marker(core.CornerTopLeft, r2.Point{X: 0, Y: 0}, 4),
		marker(core.CornerTopRight, r2.Point{X: 100, Y: 0}, 4),
		marker(core.CornerBottomRight, r2.Point{X: 100, Y: 100}, 4),
		marker(core.CornerBottomLeft, r2.Point{X: 0, Y: 100}, 4),
	}
}

func frame(cycle uint64, extra ...core.MarkerObservation) core.Frame {
	return core.Frame{
		Cycle:        cycle,
		Time:         time.Date(2025, 1, 1, 0, 0, int(cycle), 0, time.UTC),
		Observations: append(boardCorners(), extra...),
	}
}

func rotZ(deg float64) [3][3]float64 {
	r := deg * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	return [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

func newProcessor(t *testing.T, deps Dependencies, opts ...Option) (*Processor, *tracker.Tracker) {
	t.Helper()
	cal := core.DefaultMapCalibration()
	tr := tracker.New(cal)
	deps.Tracker = tr
	return New(cal, deps, opts...), tr
}

func TestProcess_BoardScenario(t *testing.T) {
	rec := &fakeRecorder{}
	tel := &fakeTelemetry{}
	path := filepath.Join(t.TempDir(), "marker_positions.json")
	p, tr := newProcessor(t, Dependencies{
		Persister: snapshot.NewPersister(path),
		Recorder:  rec,
		Telemetry: tel,
		SessionID: "s1",
	})

	report, err := p.Process(frame(1, centered(7, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)

	assert.True(t, report.HomographyOK)
	assert.Equal(t, 4, report.CornersSeen)
	assert.Equal(t, 5, report.Observations)
	assert.Equal(t, 1, report.Projected)
	assert.Equal(t, 1, report.Tracked)
	assert.True(t, report.SnapshotWritten)
	assert.Equal(t, "s1", report.SessionID)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 7, snap[0].ID)
	assert.InDelta(t, 17.5, snap[0].X, 1e-9)
	assert.InDelta(t, 11.5, snap[0].Y, 1e-9)
	assert.Equal(t, 0.0, snap[0].Rotation)

	loaded, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(snap))

	require.Len(t, rec.transitions, 1)
	assert.Equal(t, core.TransitionEnter, rec.transitions[0].Kind)
	assert.Nil(t, rec.transitions[0].Geo)
	require.Len(t, rec.cycles, 1)
	require.Len(t, rec.snapshots, 1)
	require.Len(t, tel.reports, 1)

	_, cycle := p.Homography()
	assert.Equal(t, uint64(1), cycle)
}

func TestProcess_PresentThreeCyclesThenAbsent(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{})

	var present []bool
	for cycle := uint64(1); cycle <= 4; cycle++ {
		var extra []core.MarkerObservation
		if cycle <= 3 {
			extra = append(extra, centered(7, r2.Point{X: 30, Y: 60}, 8))
		}
		_, err := p.Process(frame(cycle, extra...))
		require.NoError(t, err)
		_, ok := tr.Get(7)
		present = append(present, ok)
	}

	assert.Equal(t, []bool{true, true, true, false}, present)
}

func TestProcess_InsufficientCornersKeepsState(t *testing.T) {
	rec := &fakeRecorder{}
	w := &countingWriter{}
	p, tr := newProcessor(t, Dependencies{Persister: w, Recorder: rec})

	_, err := p.Process(frame(1, centered(7, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)
	before := tr.Snapshot()

	// corner 3 is occluded and marker 7 moved
	f := frame(2, centered(7, r2.Point{X: 80, Y: 20}, 10))
	f.Observations = append(f.Observations[:3], f.Observations[4:]...)

	report, err := p.Process(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInsufficientCorrespondences)
	assert.False(t, report.HomographyOK)
	assert.NotEmpty(t, report.HomographyErr)
	assert.Equal(t, 3, report.CornersSeen)
	assert.Zero(t, report.Projected)

	assert.Equal(t, before, tr.Snapshot(), "tracker must be untouched")
	assert.Len(t, w.writes, 2, "snapshot is persisted every cycle")

	h, cycle := p.Homography()
	assert.NotNil(t, h)
	assert.Equal(t, uint64(1), cycle, "last good homography is retained")

	assert.Len(t, rec.transitions, 1)
	assert.Len(t, rec.cycles, 2)
	assert.Len(t, rec.snapshots, 1, "unchanged layout is not re-recorded")
}

func TestProcess_CollinearCornersDegenerate(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{})

	f := core.Frame{Cycle: 1, Observations: []core.MarkerObservation{
		marker(0, r2.Point{X: 0, Y: 0}, 4),
		marker(1, r2.Point{X: 10, Y: 10}, 4),
		marker(2, r2.Point{X: 20, Y: 20}, 4),
		marker(3, r2.Point{X: 30, Y: 30}, 4),
		centered(7, r2.Point{X: 50, Y: 50}, 10),
	}}

	report, err := p.Process(f)
	assert.ErrorIs(t, err, geometry.ErrDegenerateGeometry)
	assert.False(t, report.HomographyOK)
	assert.Zero(t, tr.Len())
	assert.False(t, report.Time.IsZero(), "missing frame time is stamped")
}

func TestProcess_FailedCycleDoesNotRemoveMarkers(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{})

	_, err := p.Process(frame(1, centered(7, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)

	_, err = p.Process(core.Frame{Cycle: 2})
	require.Error(t, err)
	_, ok := tr.Get(7)
	assert.True(t, ok)
}

func TestProcess_YawFromDetectorPose(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{Estimator: fakeEstimator{err: errors.New("unused")}})

	obs := centered(9, r2.Point{X: 50, Y: 50}, 10)
	obs.Pose = &core.Pose{Rotation: rotZ(90)}

	report, err := p.Process(frame(1, obs))
	require.NoError(t, err)
	assert.Zero(t, report.PoseFailures)

	st, ok := tr.Get(9)
	require.True(t, ok)
	assert.InDelta(t, 90.0, st.Yaw, 1e-9)
}

func TestProcess_YawFromEstimator(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{Estimator: fakeEstimator{pose: core.Pose{Rotation: rotZ(-90)}}})

	_, err := p.Process(frame(1, centered(9, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)

	st, _ := tr.Get(9)
	assert.InDelta(t, -90.0, st.Yaw, 1e-9)
}

func TestProcess_PoseFailureYieldsZeroYaw(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{Estimator: fakeEstimator{err: errors.New("degenerate")}})

	report, err := p.Process(frame(1, centered(9, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.PoseFailures)

	st, ok := tr.Get(9)
	require.True(t, ok, "pose failure does not drop the marker")
	assert.Equal(t, 0.0, st.Yaw)
}

func TestProcess_DetectorPoseFailedWithoutEstimator(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{})

	obs := centered(9, r2.Point{X: 50, Y: 50}, 10)
	obs.PoseFailed = true

	report, err := p.Process(frame(1, obs))
	require.NoError(t, err)
	assert.Equal(t, 1, report.PoseFailures)
	assert.Equal(t, 1, tr.Len())
}

func TestProcess_NonFiniteYawZeroed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marker_positions.json")
	p, tr := newProcessor(t, Dependencies{
		Estimator: fakeEstimator{pose: core.Pose{Rotation: [3][3]float64{{math.NaN(), 0, 0}, {math.NaN(), 0, 0}, {0, 0, 1}}}},
		Persister: snapshot.NewPersister(path),
	})

	report, err := p.Process(frame(1, centered(9, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.PoseFailures)
	assert.True(t, report.SnapshotWritten)

	st, ok := tr.Get(9)
	require.True(t, ok)
	assert.Equal(t, 0.0, st.Yaw)
}

func TestProcess_OverflowingDetectorRvec(t *testing.T) {
	line := []byte(`{"cycle": 1, "markers": [` +
		`{"id": 0, "corners": [[0,0],[4,0],[4,4],[0,4]]},` +
		`{"id": 1, "corners": [[100,0],[104,0],[104,4],[100,4]]},` +
		`{"id": 2, "corners": [[100,100],[104,100],[104,104],[100,104]]},` +
		`{"id": 3, "corners": [[0,100],[4,100],[4,104],[0,104]]},` +
		`{"id": 7, "corners": [[45,45],[55,45],[55,55],[45,55]], "rvec": [1e200,0,0], "tvec": [0,0,1]}]}`)
	f, err := parser.NewParser(nil).ParseFrame(line)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "marker_positions.json")
	p, tr := newProcessor(t, Dependencies{Persister: snapshot.NewPersister(path)})

	report, err := p.Process(f)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PoseFailures)
	assert.True(t, report.SnapshotWritten)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0.0, snap[0].Rotation)
	assert.InDelta(t, 17.5, snap[0].X, 1e-6)
	assert.True(t, snap.Equal(snap.Clone()))

	saved, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.True(t, snap.Equal(saved))
}

func TestProcess_OutOfBoundsNotTracked(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{})

	report, err := p.Process(frame(1, centered(12, r2.Point{X: 150, Y: 50}, 10)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Projected)
	assert.Zero(t, tr.Len())
}

func TestProcess_Georeferences(t *testing.T) {
	rec := &fakeRecorder{}
	cal := core.DefaultMapCalibration()
	cal.Bounds = &core.GeoBounds{
		TopLeft:     core.LatLng{Lat: 10, Lng: 20},
		TopRight:    core.LatLng{Lat: 10, Lng: 22},
		BottomRight: core.LatLng{Lat: 8, Lng: 22},
		BottomLeft:  core.LatLng{Lat: 8, Lng: 20},
	}
	p := New(cal, Dependencies{Tracker: tracker.New(cal), Recorder: rec})

	_, err := p.Process(frame(1, centered(7, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)

	require.Len(t, rec.transitions, 1)
	require.NotNil(t, rec.transitions[0].Geo)
	assert.InDelta(t, 9.0, rec.transitions[0].Geo.Lat, 1e-9)
	assert.InDelta(t, 21.0, rec.transitions[0].Geo.Lng, 1e-9)
}

func TestProcess_CentroidAnchor(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{}, WithAnchor(AnchorCentroid))

	f := core.Frame{Cycle: 1, Observations: []core.MarkerObservation{
		centered(0, r2.Point{X: 0, Y: 0}, 4),
		centered(1, r2.Point{X: 100, Y: 0}, 4),
		centered(2, r2.Point{X: 100, Y: 100}, 4),
		centered(3, r2.Point{X: 0, Y: 100}, 4),
		centered(7, r2.Point{X: 50, Y: 50}, 10),
	}}

	_, err := p.Process(f)
	require.NoError(t, err)

	st, ok := tr.Get(7)
	require.True(t, ok)
	assert.InDelta(t, 17.5, st.Position.X, 1e-9)
	assert.InDelta(t, 11.5, st.Position.Y, 1e-9)
}

func TestSetCalibration(t *testing.T) {
	p, tr := newProcessor(t, Dependencies{})

	_, err := p.Process(frame(1, centered(7, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)

	p.SetCalibration(core.NewMapCalibration(70, 46))

	h, _ := p.Homography()
	assert.Nil(t, h, "homography into the old map is dropped")
	assert.Equal(t, 70.0, p.Calibration().Width)

	_, err = p.Process(frame(2, centered(7, r2.Point{X: 50, Y: 50}, 10)))
	require.NoError(t, err)
	st, ok := tr.Get(7)
	require.True(t, ok)
	assert.InDelta(t, 35.0, st.Position.X, 1e-9)
	assert.InDelta(t, 23.0, st.Position.Y, 1e-9)
}

func TestSetCalibration_RecordsExits(t *testing.T) {
	rec := &fakeRecorder{}
	p, tr := newProcessor(t, Dependencies{Recorder: rec})

	_, err := p.Process(frame(1,
		centered(7, r2.Point{X: 90, Y: 90}, 10),
		centered(8, r2.Point{X: 10, Y: 10}, 10),
	))
	require.NoError(t, err)
	rec.transitions = nil

	p.SetCalibration(core.NewMapCalibration(20, 20))

	assert.Equal(t, []int{8}, tr.Snapshot().IDs())
	require.Len(t, rec.transitions, 1)
	exit := rec.transitions[0]
	assert.Equal(t, 7, exit.MarkerID)
	assert.Equal(t, core.TransitionExit, exit.Kind)
	assert.Equal(t, core.ReasonOutOfBounds, exit.Reason)
	assert.Equal(t, uint64(1), exit.Cycle)
}

func TestLastReport(t *testing.T) {
	p, _ := newProcessor(t, Dependencies{})

	_, err := p.Process(frame(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), p.LastReport().Cycle)
}

func TestParseAnchor(t *testing.T) {
	a, err := ParseAnchor("")
	require.NoError(t, err)
	assert.Equal(t, AnchorFirstCorner, a)

	a, err = ParseAnchor("centroid")
	require.NoError(t, err)
	assert.Equal(t, AnchorCentroid, a)

	_, err = ParseAnchor("nope")
	assert.Error(t, err)
}
