package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/markerrelay/relay/pkg/core"
)

// ErrNoBounds is returned when a calibration carries no geographic bounds.
var ErrNoBounds = errors.New("map has no geographic bounds")

// Georeferencer maps tabletop coordinates onto the geographic quadrilateral
// spanned by the map's corners.
type Georeferencer struct {
	width  float64
	height float64
	bounds core.GeoBounds
}

// NewGeoreferencer builds a Georeferencer from a calibration with bounds.
func NewGeoreferencer(cal core.MapCalibration) (*Georeferencer, error) {
	if cal.Bounds == nil {
		return nil, ErrNoBounds
	}
	if !(cal.Width > 0) || !(cal.Height > 0) {
		return nil, fmt.Errorf("map size %vx%v: %w", cal.Width, cal.Height, ErrInvalidCoordinates)
	}
	return &Georeferencer{width: cal.Width, height: cal.Height, bounds: *cal.Bounds}, nil
}

// ToLatLng interpolates the corner coordinates bilinearly. Points outside the
// map are clamped to its edge; clamped reports whether that happened.
func (g *Georeferencer) ToLatLng(p r2.Point) (ll core.LatLng, clamped bool) {
	u := p.X / g.width
	v := p.Y / g.height
	cu := clamp01(u)
	cv := clamp01(v)
	clamped = cu != u || cv != v

	b := g.bounds
	wTL := (1 - cu) * (1 - cv)
	wTR := cu * (1 - cv)
	wBR := cu * cv
	wBL := (1 - cu) * cv

	ll.Lat = wTL*b.TopLeft.Lat + wTR*b.TopRight.Lat + wBR*b.BottomRight.Lat + wBL*b.BottomLeft.Lat
	ll.Lng = wTL*b.TopLeft.Lng + wTR*b.TopRight.Lng + wBR*b.BottomRight.Lng + wBL*b.BottomLeft.Lng
	return ll, clamped
}

// Point3857 returns the web mercator position of a map point.
func (g *Georeferencer) Point3857(p r2.Point) (geom.Point, error) {
	ll, _ := g.ToLatLng(p)
	return Coords3857From4326(ll.Lng, ll.Lat)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
