package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/golang/geo/r2"
)

// ErrNoIntrinsics is returned when calibration parameters are missing or unusable.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// Intrinsics holds the pinhole parameters of the camera.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks that the focal lengths are usable.
func (in *Intrinsics) CheckValid() error {
	if in == nil {
		return fmt.Errorf("intrinsics not provided: %w", ErrNoIntrinsics)
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return fmt.Errorf("focal length fx=%v fy=%v must be positive: %w", in.Fx, in.Fy, ErrNoIntrinsics)
	}
	if in.Width < 0 || in.Height < 0 {
		return fmt.Errorf("negative image size %dx%d: %w", in.Width, in.Height, ErrNoIntrinsics)
	}
	return nil
}

// Normalize converts a pixel coordinate into the normalized image plane.
func (in *Intrinsics) Normalize(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - in.Ppx) / in.Fx, Y: (p.Y - in.Ppy) / in.Fy}
}

// Pixel converts a normalized image-plane coordinate back to pixels.
func (in *Intrinsics) Pixel(p r2.Point) r2.Point {
	return r2.Point{X: p.X*in.Fx + in.Ppx, Y: p.Y*in.Fy + in.Ppy}
}

// Calibration is the camera artifact produced by the offline calibration step.
type Calibration struct {
	Intrinsics Intrinsics    `json:"intrinsic_parameters"`
	Distortion *BrownConrady `json:"distortion"`
}

// openCVCalibration is the layout written by cv.calibrateCamera exports:
// a 3x3 camera matrix and coefficients in (k1, k2, p1, p2, k3) order.
type openCVCalibration struct {
	CameraMatrix [][]float64 `json:"camera_matrix"`
	DistCoeffs   []float64   `json:"dist_coeffs"`
	ImageWidth   int         `json:"image_width"`
	ImageHeight  int         `json:"image_height"`
}

// ParseCalibration decodes either the native layout or an OpenCV export.
func ParseCalibration(data []byte) (*Calibration, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding calibration: %w", err)
	}

	if _, ok := raw["camera_matrix"]; ok {
		var cv openCVCalibration
		if err := json.Unmarshal(data, &cv); err != nil {
			return nil, fmt.Errorf("decoding opencv calibration: %w", err)
		}
		if len(cv.CameraMatrix) != 3 || len(cv.CameraMatrix[0]) != 3 || len(cv.CameraMatrix[1]) != 3 {
			return nil, fmt.Errorf("camera_matrix must be 3x3: %w", ErrNoIntrinsics)
		}
		dist, err := NewBrownConradyFromOpenCV(cv.DistCoeffs)
		if err != nil {
			return nil, err
		}
		c := &Calibration{
			Intrinsics: Intrinsics{
				Width:  cv.ImageWidth,
				Height: cv.ImageHeight,
				Fx:     cv.CameraMatrix[0][0],
				Fy:     cv.CameraMatrix[1][1],
				Ppx:    cv.CameraMatrix[0][2],
				Ppy:    cv.CameraMatrix[1][2],
			},
			Distortion: dist,
		}
		return c, c.Intrinsics.CheckValid()
	}

	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding calibration: %w", err)
	}
	return &c, c.Intrinsics.CheckValid()
}

// LoadCalibration reads a calibration JSON file.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration %s: %w", path, err)
	}
	return ParseCalibration(data)
}
