package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r2"

	"github.com/markerrelay/relay/pkg/core"
)

// rawFrame is one line of detector output.
type rawFrame struct {
	Cycle     *uint64     `json:"cycle"`
	Timestamp *time.Time  `json:"timestamp"`
	Markers   []rawMarker `json:"markers"`
}

type rawMarker struct {
	ID      *int        `json:"id"`
	Corners [][]float64 `json:"corners"`
	PoseOK  *bool       `json:"pose_ok"`
	Rvec    []float64   `json:"rvec"`
	Tvec    []float64   `json:"tvec"`
}

// ParseFrame decodes one detector line.
func (p *Parser) ParseFrame(line []byte) (core.Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(line, &raw); err != nil {
		return core.Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	frame := core.Frame{
		Observations: make([]core.MarkerObservation, 0, len(raw.Markers)),
	}

	if raw.Cycle != nil {
		frame.Cycle = *raw.Cycle
		p.cycle.Store(*raw.Cycle)
	} else {
		frame.Cycle = p.cycle.Add(1)
	}
	if raw.Timestamp != nil {
		frame.Time = *raw.Timestamp
	} else {
		frame.Time = p.now()
	}

	for i, m := range raw.Markers {
		obs, err := parseMarker(m)
		if err != nil {
			return core.Frame{}, fmt.Errorf("marker %d: %w", i, err)
		}
		frame.Observations = append(frame.Observations, obs)
	}

	p.logger.Debug("Parsed frame", "cycle", frame.Cycle, "markers", len(frame.Observations))
	return frame, nil
}

func parseMarker(m rawMarker) (core.MarkerObservation, error) {
	var obs core.MarkerObservation
	if m.ID == nil {
		return obs, fmt.Errorf("missing id: %w", ErrMalformedFrame)
	}
	if *m.ID < 0 {
		return obs, fmt.Errorf("negative id %d: %w", *m.ID, ErrMalformedFrame)
	}
	obs.ID = *m.ID

	if len(m.Corners) != 4 {
		return obs, fmt.Errorf("expected 4 corners, got %d: %w", len(m.Corners), ErrMalformedFrame)
	}
	for i, c := range m.Corners {
		if len(c) != 2 || !finite(c[0]) || !finite(c[1]) {
			return obs, fmt.Errorf("corner %d is not a finite (x, y) pair: %w", i, ErrMalformedFrame)
		}
		obs.Corners[i] = r2.Point{X: c[0], Y: c[1]}
	}

	if m.PoseOK != nil && !*m.PoseOK {
		obs.PoseFailed = true
		return obs, nil
	}
	if len(m.Rvec) == 3 && len(m.Tvec) == 3 {
		// An unusable detector pose counts as a failed solve for this marker only.
		if !finiteVec(m.Rvec) || !finiteVec(m.Tvec) || !finite(norm(m.Rvec)) {
			obs.PoseFailed = true
			return obs, nil
		}
		obs.Pose = &core.Pose{
			Rotation:    Rodrigues(m.Rvec[0], m.Rvec[1], m.Rvec[2]),
			Translation: [3]float64{m.Tvec[0], m.Tvec[1], m.Tvec[2]},
		}
	}
	return obs, nil
}

// Rodrigues converts an axis-angle vector into a rotation matrix.
func Rodrigues(x, y, z float64) [3][3]float64 {
	theta := math.Sqrt(x*x + y*y + z*z)
	if theta < 1e-12 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	kx, ky, kz := x/theta, y/theta, z/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return [3][3]float64{
		{c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s},
		{ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s},
		{kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v},
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteVec(v []float64) bool {
	for _, f := range v {
		if !finite(f) {
			return false
		}
	}
	return true
}

func norm(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}
