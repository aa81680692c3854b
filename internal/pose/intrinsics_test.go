package pose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalibration_OpenCV(t *testing.T) {
	data := []byte(`{
		"camera_matrix": [[910.5, 0, 641.2], [0, 908.1, 359.7], [0, 0, 1]],
		"dist_coeffs": [-0.2, 0.04, 0.001, 0.002, 0.0],
		"image_width": 1280,
		"image_height": 720
	}`)
	c, err := ParseCalibration(data)
	require.NoError(t, err)

	assert.Equal(t, Intrinsics{Width: 1280, Height: 720, Fx: 910.5, Fy: 908.1, Ppx: 641.2, Ppy: 359.7}, c.Intrinsics)
	require.NotNil(t, c.Distortion)
	assert.Equal(t, -0.2, c.Distortion.RadialK1)
	assert.Equal(t, 0.002, c.Distortion.TangentialP2)
}

func TestParseCalibration_Native(t *testing.T) {
	data := []byte(`{
		"intrinsic_parameters": {"width_px": 640, "height_px": 480, "fx": 500, "fy": 500, "ppx": 320, "ppy": 240},
		"distortion": {"rk1": 0.1}
	}`)
	c, err := ParseCalibration(data)
	require.NoError(t, err)
	assert.Equal(t, 500.0, c.Intrinsics.Fx)
	assert.Equal(t, 0.1, c.Distortion.RadialK1)
}

func TestParseCalibration_Invalid(t *testing.T) {
	_, err := ParseCalibration([]byte(`{"camera_matrix": [[1, 0]]}`))
	assert.ErrorIs(t, err, ErrNoIntrinsics)

	_, err = ParseCalibration([]byte(`{"intrinsic_parameters": {"fx": 0}}`))
	assert.ErrorIs(t, err, ErrNoIntrinsics)

	_, err = ParseCalibration([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"intrinsic_parameters": {"fx": 600, "fy": 600, "ppx": 320, "ppy": 240}}`), 0644))

	c, err := LoadCalibration(path)
	require.NoError(t, err)
	assert.Equal(t, 600.0, c.Intrinsics.Fy)

	_, err = LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
