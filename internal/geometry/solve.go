package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// Solve computes the least-squares homography over every correspondence using
// the normalized direct linear transform. All points are used, not just four.
func Solve(corrs []Correspondence) (*Homography, error) {
	n := len(corrs)
	if n < MinCorrespondences {
		return nil, fmt.Errorf("have %d, need %d: %w", n, MinCorrespondences, ErrInsufficientCorrespondences)
	}

	src := make([]r2.Point, n)
	dst := make([]r2.Point, n)
	for i, c := range corrs {
		src[i] = c.Src
		dst[i] = c.Dst
	}

	srcN, tSrc, err := normalizePoints(src)
	if err != nil {
		return nil, fmt.Errorf("source points: %w", err)
	}
	dstN, tDst, err := normalizePoints(dst)
	if err != nil {
		return nil, fmt.Errorf("destination points: %w", err)
	}
	if err := checkCollinear(srcN); err != nil {
		return nil, fmt.Errorf("source points: %w", err)
	}
	if err := checkCollinear(dstN); err != nil {
		return nil, fmt.Errorf("destination points: %w", err)
	}

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, fmt.Errorf("svd did not converge: %w", ErrDegenerateGeometry)
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[7]/values[0] < minConditionRatio {
		return nil, fmt.Errorf("condition ratio %.3g: %w", values[7]/values[0], ErrDegenerateGeometry)
	}

	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = inv(Tdst) * Hn * Tsrc
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, fmt.Errorf("denormalizing: %w", ErrDegenerateGeometry)
	}
	var h mat.Dense
	h.Product(&tDstInv, hn, tSrc)

	return NewHomography(fromDense(&h))
}

// normalizePoints translates the centroid to the origin and scales so the mean
// distance from it is sqrt(2). Returns the normalized points and the transform.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	n := float64(len(pts))
	var mu r2.Point
	for _, p := range pts {
		mu = mu.Add(p)
	}
	mu = mu.Mul(1 / n)

	d := 0.0
	for _, p := range pts {
		d += p.Sub(mu).Norm() / n
	}
	if d < infinityEpsilon || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, nil, fmt.Errorf("coincident points: %w", ErrDegenerateGeometry)
	}
	scale := math.Sqrt2 / d

	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(mu).Mul(scale)
	}
	return out, t, nil
}

// checkCollinear rejects point sets that do not span the plane. With exactly
// four points any collinear triple already leaves the solve underdetermined.
func checkCollinear(pts []r2.Point) error {
	var sxx, sxy, syy float64
	for _, p := range pts {
		sxx += p.X * p.X
		sxy += p.X * p.Y
		syy += p.Y * p.Y
	}
	// smallest eigenvalue of the 2x2 scatter matrix
	tr := sxx + syy
	det := sxx*syy - sxy*sxy
	disc := math.Sqrt(math.Max(tr*tr/4-det, 0))
	if tr/2-disc < collinearEpsilon*tr {
		return fmt.Errorf("points are collinear: %w", ErrDegenerateGeometry)
	}

	if len(pts) != MinCorrespondences {
		return nil
	}
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				area := pts[j].Sub(pts[i]).Cross(pts[k].Sub(pts[i]))
				if math.Abs(area) < collinearEpsilon {
					return fmt.Errorf("points %d, %d, %d are collinear: %w", i, j, k, ErrDegenerateGeometry)
				}
			}
		}
	}
	return nil
}
