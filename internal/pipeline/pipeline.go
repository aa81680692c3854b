// Package pipeline turns one detector frame into lifecycle updates: it solves
// the camera-to-map homography from the corner markers, projects every other
// marker, attaches a yaw and hands the result to the tracker.
package pipeline

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/markerrelay/relay/internal/geo"
	"github.com/markerrelay/relay/internal/geometry"
	"github.com/markerrelay/relay/internal/pose"
	"github.com/markerrelay/relay/internal/tracker"
	"github.com/markerrelay/relay/pkg/core"
)

// Anchor selects which point of a corner marker is tied to the map corner.
type Anchor int

const (
	// AnchorFirstCorner uses the first detected corner of the marker.
	AnchorFirstCorner Anchor = iota
	// AnchorCentroid uses the centre of the marker.
	AnchorCentroid
)

// ParseAnchor maps a config value onto an Anchor.
func ParseAnchor(s string) (Anchor, error) {
	switch s {
	case "", "corner", "first_corner":
		return AnchorFirstCorner, nil
	case "centroid", "center":
		return AnchorCentroid, nil
	default:
		return 0, fmt.Errorf("unknown homography anchor %q", s)
	}
}

// Recorder receives lifecycle history.
type Recorder interface {
	RecordTransition(t *core.Transition) error
	RecordCycle(r *core.CycleReport) error
	RecordSnapshot(s *core.SnapshotEvent) error
}

// Telemetry receives a summary of every cycle.
type Telemetry interface {
	WriteCycle(r core.CycleReport)
}

// PoseEstimator solves a marker's pose from its image corners.
type PoseEstimator interface {
	Estimate(corners [4]r2.Point) (core.Pose, error)
}

// SnapshotWriter persists the current layout.
type SnapshotWriter interface {
	Write(s core.Snapshot) error
}

// Dependencies holds the collaborators of a Processor. Only Tracker is required.
type Dependencies struct {
	Tracker   *tracker.Tracker
	Estimator PoseEstimator
	Persister SnapshotWriter
	Recorder  Recorder
	Telemetry Telemetry
	Logger    *slog.Logger
	SessionID string
}

// Option configures a Processor.
type Option func(*Processor)

// WithAnchor sets how corner markers are anchored to the map.
func WithAnchor(a Anchor) Option {
	return func(p *Processor) {
		p.anchor = a
	}
}

// Processor runs the per-cycle pipeline. Process is not meant to be called
// concurrently; cycles must be fed in order from a single goroutine.
type Processor struct {
	deps   Dependencies
	logger *slog.Logger
	anchor Anchor

	mu            sync.Mutex
	cal           core.MapCalibration
	georef        *geo.Georeferencer
	lastGood      *geometry.Homography
	lastGoodCycle uint64
	lastReport    core.CycleReport
	lastRecorded  core.Snapshot
}

// New creates a Processor for the given calibration.
func New(cal core.MapCalibration, deps Dependencies, opts ...Option) *Processor {
	p := &Processor{
		deps:   deps,
		logger: deps.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(p)
	}
	p.setCalibration(cal)
	return p
}

// SetCalibration switches to a new map. The retained homography is dropped
// because it maps into the old map's coordinates.
func (p *Processor) SetCalibration(cal core.MapCalibration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Exits are georeferenced against the map the markers were on.
	p.record(p.deps.Tracker.SetCalibration(cal, tracker.Cycle{Number: p.lastReport.Cycle, Time: time.Now()}))
	p.setCalibration(cal)
}

func (p *Processor) setCalibration(cal core.MapCalibration) {
	p.cal = cal.Clone()
	p.lastGood = nil
	p.lastGoodCycle = 0
	p.georef = nil
	if cal.Bounds != nil {
		g, err := geo.NewGeoreferencer(cal)
		if err != nil {
			p.logger.Warn("ignoring geographic bounds", "error", err)
		} else {
			p.georef = g
		}
	}
}

// Process runs one cycle. A homography failure skips the lifecycle update
// and is returned wrapped; the snapshot is still persisted.
func (p *Processor) Process(f core.Frame) (core.CycleReport, error) {
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if f.Time.IsZero() {
		f.Time = start
	}
	report := core.CycleReport{
		SessionID:    p.deps.SessionID,
		Cycle:        f.Cycle,
		Time:         f.Time,
		Observations: len(f.Observations),
	}

	corrs := p.correspondences(f.Observations)
	report.CornersSeen = len(corrs)

	h, err := geometry.Solve(corrs)
	if err != nil {
		report.HomographyErr = err.Error()
		p.logger.Warn("homography unavailable, skipping cycle",
			"cycle", f.Cycle, "corners", len(corrs), "error", err)
		p.finish(&report, start)
		return report, fmt.Errorf("cycle %d: %w", f.Cycle, err)
	}
	report.HomographyOK = true
	p.lastGood = h
	p.lastGoodCycle = f.Cycle

	updates := make([]tracker.Update, 0, len(f.Observations))
	for _, obs := range f.Observations {
		if p.cal.IsCorner(obs.ID) {
			continue
		}
		pos, err := h.Project(obs.Centroid())
		if err != nil {
			p.logger.Debug("marker not projectable", "marker", obs.ID, "error", err)
			continue
		}
		report.Projected++

		yaw, ok := p.yaw(obs)
		if !ok {
			report.PoseFailures++
		}
		updates = append(updates, tracker.Update{ID: obs.ID, Position: pos, Yaw: yaw})
	}

	p.record(p.deps.Tracker.Apply(tracker.Cycle{Number: f.Cycle, Time: f.Time, Updates: updates}))

	p.finish(&report, start)
	return report, nil
}

func (p *Processor) record(transitions []core.Transition) {
	for i := range transitions {
		p.georeference(&transitions[i])
		p.logger.Debug("marker transition",
			"marker", transitions[i].MarkerID, "kind", transitions[i].Kind, "reason", transitions[i].Reason)
		if p.deps.Recorder != nil {
			if err := p.deps.Recorder.RecordTransition(&transitions[i]); err != nil {
				p.logger.Error("failed to record transition", "marker", transitions[i].MarkerID, "error", err)
			}
		}
	}
}

// LastReport returns the report of the most recent cycle.
func (p *Processor) LastReport() core.CycleReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

// Homography returns the last homography that solved, and its cycle. It is
// kept for inspection only; a failed cycle never projects through it.
func (p *Processor) Homography() (*geometry.Homography, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastGood, p.lastGoodCycle
}

// Calibration returns the active calibration.
func (p *Processor) Calibration() core.MapCalibration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cal.Clone()
}

func (p *Processor) correspondences(obs []core.MarkerObservation) []geometry.Correspondence {
	// A corner ID seen twice in one frame keeps its last observation.
	byID := make(map[int]r2.Point, len(p.cal.Corners))
	for _, o := range obs {
		if !p.cal.IsCorner(o.ID) {
			continue
		}
		if p.anchor == AnchorCentroid {
			byID[o.ID] = o.Centroid()
		} else {
			byID[o.ID] = o.Corners[0]
		}
	}

	corrs := make([]geometry.Correspondence, 0, len(byID))
	for id := core.CornerTopLeft; id <= core.CornerBottomLeft; id++ {
		if src, ok := byID[id]; ok {
			corrs = append(corrs, geometry.Correspondence{Src: src, Dst: p.cal.Corners[id]})
			delete(byID, id)
		}
	}
	// non-standard corner IDs, if the calibration defines any
	for id, src := range byID {
		corrs = append(corrs, geometry.Correspondence{Src: src, Dst: p.cal.Corners[id]})
	}
	return corrs
}

// yaw prefers the detector's pose, then the local estimator. The bool is false
// when a solve was attempted and failed, in which case yaw is 0. A non-finite
// yaw counts as a failed solve.
func (p *Processor) yaw(obs core.MarkerObservation) (float64, bool) {
	if obs.Pose != nil {
		return p.finiteYaw(obs.ID, pose.Yaw(obs.Pose.Rotation))
	}
	if p.deps.Estimator != nil {
		est, err := p.deps.Estimator.Estimate(obs.Corners)
		if err != nil {
			p.logger.Debug("pose solve failed", "marker", obs.ID, "error", err)
			return 0, false
		}
		return p.finiteYaw(obs.ID, pose.Yaw(est.Rotation))
	}
	return 0, !obs.PoseFailed
}

func (p *Processor) finiteYaw(id int, yaw float64) (float64, bool) {
	if math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		p.logger.Debug("pose yields no usable yaw", "marker", id, "yaw", yaw)
		return 0, false
	}
	return yaw, true
}

func (p *Processor) georeference(t *core.Transition) {
	if p.georef == nil {
		return
	}
	ll, _ := p.georef.ToLatLng(r2.Point{X: t.X, Y: t.Y})
	t.Geo = &ll
}

// finish persists the layout and publishes the cycle. Persistence and
// history failures are logged and never abort the cycle.
func (p *Processor) finish(report *core.CycleReport, start time.Time) {
	snap := p.deps.Tracker.Snapshot()
	report.Tracked = len(snap)

	if p.deps.Persister != nil {
		if err := p.deps.Persister.Write(snap); err != nil {
			p.logger.Error("failed to persist snapshot", "cycle", report.Cycle, "error", err)
		} else {
			report.SnapshotWritten = true
		}
	}

	report.Duration = time.Since(start)

	if p.deps.Recorder != nil {
		if !snap.Equal(p.lastRecorded) {
			ev := &core.SnapshotEvent{Cycle: report.Cycle, Time: report.Time, Markers: snap}
			if err := p.deps.Recorder.RecordSnapshot(ev); err != nil {
				p.logger.Error("failed to record snapshot", "cycle", report.Cycle, "error", err)
			} else {
				p.lastRecorded = snap
			}
		}
		if err := p.deps.Recorder.RecordCycle(report); err != nil {
			p.logger.Error("failed to record cycle", "cycle", report.Cycle, "error", err)
		}
	}
	if p.deps.Telemetry != nil {
		p.deps.Telemetry.WriteCycle(*report)
	}

	p.lastReport = *report
}
