// Package geometry solves and applies the planar homography between camera
// pixel space and map space.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// MinCorrespondences is the smallest point set that determines a homography.
const MinCorrespondences = 4

const (
	// ratio of the 8th to the 1st singular value of the normalized design matrix
	// below which the null space is not one-dimensional
	minConditionRatio = 1e-7
	// area, in normalized units, under which three points count as collinear
	collinearEpsilon = 1e-6
	// |w| under which a projected point is at infinity
	infinityEpsilon = 1e-12
)

// Correspondence pairs a camera-space point with its known map-space location.
type Correspondence struct {
	Src r2.Point
	Dst r2.Point
}

// Homography is a 3×3 projective transform, normalized so that H[2][2] == 1.
type Homography struct {
	m [3][3]float64
}

// NewHomography wraps a raw matrix. The matrix is rescaled so its last entry is 1.
func NewHomography(m [3][3]float64) (*Homography, error) {
	if math.Abs(m[2][2]) < infinityEpsilon {
		return nil, fmt.Errorf("h33 is zero: %w", ErrDegenerateGeometry)
	}
	h := &Homography{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.m[i][j] = m[i][j] / m[2][2]
		}
	}
	if math.Abs(h.det()) < infinityEpsilon {
		return nil, fmt.Errorf("singular matrix: %w", ErrDegenerateGeometry)
	}
	return h, nil
}

// Matrix returns a copy of the underlying matrix.
func (h *Homography) Matrix() [3][3]float64 {
	return h.m
}

// Project maps a camera-space point into map space.
func (h *Homography) Project(p r2.Point) (r2.Point, error) {
	if h == nil {
		return r2.Point{}, ErrNoHomography
	}
	x := h.m[0][0]*p.X + h.m[0][1]*p.Y + h.m[0][2]
	y := h.m[1][0]*p.X + h.m[1][1]*p.Y + h.m[1][2]
	w := h.m[2][0]*p.X + h.m[2][1]*p.Y + h.m[2][2]
	if math.Abs(w) < infinityEpsilon {
		return r2.Point{}, fmt.Errorf("point %v maps to infinity: %w", p, ErrDegenerateGeometry)
	}
	return r2.Point{X: x / w, Y: y / w}, nil
}

// Project maps p through h, failing with ErrNoHomography when h is nil.
func Project(h *Homography, p r2.Point) (r2.Point, error) {
	return h.Project(p)
}

// Inverse returns the transform from map space back to camera space.
func (h *Homography) Inverse() (*Homography, error) {
	if h == nil {
		return nil, ErrNoHomography
	}
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return nil, fmt.Errorf("inverting homography: %w", ErrDegenerateGeometry)
	}
	return NewHomography(fromDense(&inv))
}

func (h *Homography) det() float64 {
	m := h.m
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

func (h *Homography) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h.m[0][0], h.m[0][1], h.m[0][2],
		h.m[1][0], h.m[1][1], h.m[1][2],
		h.m[2][0], h.m[2][1], h.m[2][2],
	})
}

func fromDense(d mat.Matrix) [3][3]float64 {
	var m [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}
