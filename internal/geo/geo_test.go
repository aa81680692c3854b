package geo

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerrelay/relay/pkg/core"
)

func testBounds() *core.GeoBounds {
	return &core.GeoBounds{
		TopLeft:     core.LatLng{Lat: 32.561065, Lng: -117.083997},
		TopRight:    core.LatLng{Lat: 32.561065, Lng: -117.075475},
		BottomRight: core.LatLng{Lat: 32.558361, Lng: -117.075475},
		BottomLeft:  core.LatLng{Lat: 32.558361, Lng: -117.083997},
	}
}

func testGeoreferencer(t *testing.T) *Georeferencer {
	t.Helper()
	cal := core.DefaultMapCalibration()
	cal.Bounds = testBounds()
	g, err := NewGeoreferencer(cal)
	require.NoError(t, err)
	return g
}

func TestCoords3857From4326_Origin(t *testing.T) {
	point, err := Coords3857From4326(0, 0)
	require.NoError(t, err)

	coords, ok := point.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 0.0, coords.X, 1e-6)
	assert.InDelta(t, 0.0, coords.Y, 1e-6)
}

func TestCoords3857From4326_KnownPoint(t *testing.T) {
	point, err := Coords3857From4326(-117.083997, 32.561065)
	require.NoError(t, err)

	coords, ok := point.Coordinates()
	require.True(t, ok)
	// 6378137 * lng in radians
	assert.InDelta(t, -13033730.93, coords.X, 1.0)
	assert.InDelta(t, 3837186.56, coords.Y, 1.0)
}

func TestCoords3857From4326_Invalid(t *testing.T) {
	_, err := Coords3857From4326(200, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)

	_, err = Coords3857From4326(0, -91)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestNewGeoreferencer_RequiresBounds(t *testing.T) {
	_, err := NewGeoreferencer(core.DefaultMapCalibration())
	assert.ErrorIs(t, err, ErrNoBounds)

	cal := core.NewMapCalibration(0, 10)
	cal.Bounds = testBounds()
	_, err = NewGeoreferencer(cal)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestToLatLng_Corners(t *testing.T) {
	g := testGeoreferencer(t)
	b := testBounds()

	cases := []struct {
		p    r2.Point
		want core.LatLng
	}{
		{r2.Point{X: 0, Y: 0}, b.TopLeft},
		{r2.Point{X: 35, Y: 0}, b.TopRight},
		{r2.Point{X: 35, Y: 23}, b.BottomRight},
		{r2.Point{X: 0, Y: 23}, b.BottomLeft},
	}
	for _, tc := range cases {
		got, clamped := g.ToLatLng(tc.p)
		assert.False(t, clamped)
		assert.InDelta(t, tc.want.Lat, got.Lat, 1e-12)
		assert.InDelta(t, tc.want.Lng, got.Lng, 1e-12)
	}
}

func TestToLatLng_Center(t *testing.T) {
	g := testGeoreferencer(t)

	got, clamped := g.ToLatLng(r2.Point{X: 17.5, Y: 11.5})
	assert.False(t, clamped)
	assert.InDelta(t, (32.561065+32.558361)/2, got.Lat, 1e-9)
	assert.InDelta(t, (-117.083997-117.075475)/2, got.Lng, 1e-9)
}

func TestToLatLng_Clamps(t *testing.T) {
	g := testGeoreferencer(t)

	got, clamped := g.ToLatLng(r2.Point{X: -5, Y: 100})
	assert.True(t, clamped)
	assert.InDelta(t, testBounds().BottomLeft.Lat, got.Lat, 1e-12)
	assert.InDelta(t, testBounds().BottomLeft.Lng, got.Lng, 1e-12)
}

func TestPoint3857(t *testing.T) {
	g := testGeoreferencer(t)

	point, err := g.Point3857(r2.Point{X: 0, Y: 0})
	require.NoError(t, err)

	want, err := Coords3857From4326(-117.083997, 32.561065)
	require.NoError(t, err)
	got, ok := point.Coordinates()
	require.True(t, ok)
	exp, ok := want.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, exp.X, got.X, 1e-6)
	assert.InDelta(t, exp.Y, got.Y, 1e-6)
}
