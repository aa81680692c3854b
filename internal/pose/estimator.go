// Package pose recovers a marker's 3D pose from its four image corners and
// reduces it to a planar yaw angle.
package pose

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/markerrelay/relay/internal/geometry"
	"github.com/markerrelay/relay/pkg/core"
)

// ErrPoseSolveFailure is returned for corner sets that admit no stable pose.
var ErrPoseSolveFailure = errors.New("pose solve failure")

// DefaultMarkerLength is the printed marker side in metres.
const DefaultMarkerLength = 0.05

// minCornerArea is the image-plane area, in normalized units, below which a
// quadrilateral is treated as collapsed.
const minCornerArea = 1e-12

// Estimator solves single-marker poses with a fixed camera calibration.
type Estimator struct {
	intrinsics   Intrinsics
	distortion   *BrownConrady
	markerLength float64
	object       [4]r2.Point
}

// NewEstimator builds an estimator. markerLength <= 0 selects DefaultMarkerLength.
func NewEstimator(cal Calibration, markerLength float64) (*Estimator, error) {
	if err := cal.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if markerLength <= 0 {
		markerLength = DefaultMarkerLength
	}
	half := markerLength / 2
	return &Estimator{
		intrinsics:   cal.Intrinsics,
		distortion:   cal.Distortion,
		markerLength: markerLength,
		// corner order follows the detector: top-left, top-right, bottom-right, bottom-left
		object: [4]r2.Point{
			{X: -half, Y: half},
			{X: half, Y: half},
			{X: half, Y: -half},
			{X: -half, Y: -half},
		},
	}, nil
}

// MarkerLength returns the configured marker side length.
func (e *Estimator) MarkerLength() float64 {
	return e.markerLength
}

// Estimate solves the rotation and translation of a marker relative to the camera.
func (e *Estimator) Estimate(corners [4]r2.Point) (core.Pose, error) {
	img := make([]r2.Point, 4)
	for i, c := range corners {
		if math.IsNaN(c.X) || math.IsNaN(c.Y) {
			return core.Pose{}, fmt.Errorf("corner %d is NaN: %w", i, ErrPoseSolveFailure)
		}
		n := e.intrinsics.Normalize(c)
		x, y := e.distortion.Undistort(n.X, n.Y)
		img[i] = r2.Point{X: x, Y: y}
	}

	if math.Abs(polygonArea(img)) < minCornerArea {
		return core.Pose{}, fmt.Errorf("corners enclose no area: %w", ErrPoseSolveFailure)
	}

	corrs := make([]geometry.Correspondence, 4)
	for i := range img {
		corrs[i] = geometry.Correspondence{Src: e.object[i], Dst: img[i]}
	}
	h, err := geometry.Solve(corrs)
	if err != nil {
		return core.Pose{}, fmt.Errorf("%w: %v", ErrPoseSolveFailure, err)
	}

	return decompose(h.Matrix())
}

// decompose recovers [r1 r2 t] from a plane-to-image homography expressed in
// normalized camera coordinates, then projects R onto SO(3).
func decompose(h [3][3]float64) (core.Pose, error) {
	h1 := [3]float64{h[0][0], h[1][0], h[2][0]}
	h2 := [3]float64{h[0][1], h[1][1], h[2][1]}
	h3 := [3]float64{h[0][2], h[1][2], h[2][2]}

	n1, n2 := norm3(h1), norm3(h2)
	if n1 < minCornerArea || n2 < minCornerArea {
		return core.Pose{}, fmt.Errorf("homography columns vanish: %w", ErrPoseSolveFailure)
	}
	scale := 2 / (n1 + n2)
	// marker must lie in front of the camera
	if h3[2]*scale < 0 {
		scale = -scale
	}

	r1 := mul3(h1, scale)
	r2v := mul3(h2, scale)
	t := mul3(h3, scale)
	r3 := cross3(r1, r2v)

	raw := mat.NewDense(3, 3, []float64{
		r1[0], r2v[0], r3[0],
		r1[1], r2v[1], r3[1],
		r1[2], r2v[2], r3[2],
	})

	var svd mat.SVD
	if ok := svd.Factorize(raw, mat.SVDFull); !ok {
		return core.Pose{}, fmt.Errorf("rotation svd did not converge: %w", ErrPoseSolveFailure)
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the axis of the smallest singular value
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	var p core.Pose
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p.Rotation[i][j] = r.At(i, j)
		}
	}
	p.Translation = t
	return p, nil
}

// Yaw extracts the rotation about the vertical axis in degrees, in (-180, 180].
func Yaw(r [3][3]float64) float64 {
	deg := math.Atan2(r[1][0], r[0][0]) * 180 / math.Pi
	if deg <= -180 {
		deg += 360
	}
	return deg
}

// YawOrZero returns the yaw of a pose estimate, or 0 when the solve failed.
func (e *Estimator) YawOrZero(corners [4]r2.Point) (float64, error) {
	p, err := e.Estimate(corners)
	if err != nil {
		return 0, err
	}
	return Yaw(p.Rotation), nil
}

func polygonArea(pts []r2.Point) float64 {
	a := 0.0
	for i := range pts {
		a += pts[i].Cross(pts[(i+1)%len(pts)])
	}
	return a / 2
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func mul3(v [3]float64, s float64) [3]float64 {
	return [3]float64{v[0] * s, v[1] * s, v[2] * s}
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
