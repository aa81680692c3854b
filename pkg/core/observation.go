// pkg/core/observation.go
package core

import (
	"time"

	"github.com/golang/geo/r2"
)

// Pose is a rigid transform of a marker relative to the camera.
type Pose struct {
	Rotation    [3][3]float64
	Translation [3]float64
}

// MarkerObservation is one detector result for one frame.
type MarkerObservation struct {
	ID      int
	Corners [4]r2.Point

	// Pose is set when the detector already solved it.
	Pose       *Pose
	PoseFailed bool
}

// Centroid is the mean of the four corners.
func (o MarkerObservation) Centroid() r2.Point {
	var sum r2.Point
	for _, c := range o.Corners {
		sum = sum.Add(c)
	}
	return sum.Mul(0.25)
}

// Frame is the set of observations produced by the detector for one cycle.
type Frame struct {
	Cycle        uint64
	Time         time.Time
	Observations []MarkerObservation
}
