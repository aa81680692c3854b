package geometry

import "errors"

var (
	// ErrInsufficientCorrespondences is returned when fewer than four point pairs are available.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")

	// ErrDegenerateGeometry is returned when the point set is collinear, coincident
	// or too badly conditioned to give a stable solve.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrNoHomography is returned when projecting without a valid transform.
	ErrNoHomography = errors.New("no homography")
)
