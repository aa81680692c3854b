package pose

import "fmt"

// BrownConrady holds radial and tangential lens distortion coefficients.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConradyFromOpenCV takes coefficients in OpenCV order (k1, k2, p1, p2, k3).
// Missing trailing values are zero; anything past k3 is rejected.
func NewBrownConradyFromOpenCV(coeffs []float64) (*BrownConrady, error) {
	if len(coeffs) > 5 {
		return nil, fmt.Errorf("expected at most 5 distortion coefficients, got %d", len(coeffs))
	}
	c := make([]float64, 5)
	copy(c, coeffs)
	return &BrownConrady{
		RadialK1:     c[0],
		RadialK2:     c[1],
		TangentialP1: c[2],
		TangentialP2: c[3],
		RadialK3:     c[4],
	}, nil
}

// Distort applies the forward model to a normalized image-plane point.
func (bc *BrownConrady) Distort(xu, yu float64) (float64, float64) {
	if bc == nil {
		return xu, yu
	}
	r2 := xu*xu + yu*yu
	radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := xu*radial + 2*bc.TangentialP1*xu*yu + bc.TangentialP2*(r2+2*xu*xu)
	yd := yu*radial + 2*bc.TangentialP2*xu*yu + bc.TangentialP1*(r2+2*yu*yu)
	return xd, yd
}

// Undistort inverts the model with Newton-Raphson, starting from the distorted point.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}

	const maxIterations = 20
	const tolerance = 1e-12

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		ex, ey := bc.Distort(xu, yu)
		ex -= xd
		ey -= yd
		if ex*ex+ey*ey < tolerance*tolerance {
			break
		}

		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r4*r2
		dRadial := bc.RadialK1 + 2*bc.RadialK2*r2 + 3*bc.RadialK3*r4

		j11 := radial + 2*xu*xu*dRadial + 2*bc.TangentialP1*yu + 6*bc.TangentialP2*xu
		j12 := 2*xu*yu*dRadial + 2*bc.TangentialP1*xu + 2*bc.TangentialP2*yu
		j21 := 2*xu*yu*dRadial + 2*bc.TangentialP2*yu + 2*bc.TangentialP1*xu
		j22 := radial + 2*yu*yu*dRadial + 2*bc.TangentialP2*xu + 6*bc.TangentialP1*yu

		det := j11*j22 - j12*j21
		if det == 0 {
			break
		}
		xu -= (j22*ex - j12*ey) / det
		yu -= (-j21*ex + j11*ey) / det
	}
	return xu, yu
}
