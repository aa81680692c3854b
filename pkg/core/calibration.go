// pkg/core/calibration.go
package core

import (
	"github.com/golang/geo/r2"
)

// Default map size in centimetres, matching the printed board the system was built for.
const (
	DefaultMapWidth  = 35.0
	DefaultMapHeight = 23.0
)

// Reserved corner marker IDs, clockwise from the map origin.
const (
	CornerTopLeft     = 0
	CornerTopRight    = 1
	CornerBottomRight = 2
	CornerBottomLeft  = 3
)

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoBounds ties the four map corners to geographic coordinates.
type GeoBounds struct {
	TopLeft     LatLng `json:"topLeft"`
	TopRight    LatLng `json:"topRight"`
	BottomRight LatLng `json:"bottomRight"`
	BottomLeft  LatLng `json:"bottomLeft"`
}

// MapCalibration describes the physical map and where its reserved corner
// markers sit in map space. Values are replaced wholesale on refresh, never mutated.
type MapCalibration struct {
	Width   float64
	Height  float64
	Corners map[int]r2.Point
	Version string
	Bounds  *GeoBounds
}

// CornerLayout returns the standard corner assignment for a w×h map.
func CornerLayout(w, h float64) map[int]r2.Point {
	return map[int]r2.Point{
		CornerTopLeft:     {X: 0, Y: 0},
		CornerTopRight:    {X: w, Y: 0},
		CornerBottomRight: {X: w, Y: h},
		CornerBottomLeft:  {X: 0, Y: h},
	}
}

// NewMapCalibration builds a calibration with the standard corner layout.
func NewMapCalibration(w, h float64) MapCalibration {
	return MapCalibration{
		Width:   w,
		Height:  h,
		Corners: CornerLayout(w, h),
	}
}

// DefaultMapCalibration is used until a remote map config has been fetched.
func DefaultMapCalibration() MapCalibration {
	return NewMapCalibration(DefaultMapWidth, DefaultMapHeight)
}

// IsCorner reports whether id is reserved for homography reference.
func (c MapCalibration) IsCorner(id int) bool {
	_, ok := c.Corners[id]
	return ok
}

// Contains reports whether p lies inside the map, edges included.
func (c MapCalibration) Contains(p r2.Point) bool {
	return p.X >= 0 && p.X <= c.Width && p.Y >= 0 && p.Y <= c.Height
}

// Clone returns a deep copy.
func (c MapCalibration) Clone() MapCalibration {
	out := c
	out.Corners = make(map[int]r2.Point, len(c.Corners))
	for id, p := range c.Corners {
		out.Corners[id] = p
	}
	if c.Bounds != nil {
		b := *c.Bounds
		out.Bounds = &b
	}
	return out
}
