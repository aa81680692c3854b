package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markerrelay/relay/pkg/core"
)

type rawMapConfig struct {
	Width            *float64        `json:"width"`
	Height           *float64        `json:"height"`
	GeographicBounds *core.GeoBounds `json:"geographic_bounds"`
	ConfigVersion    json.RawMessage `json:"config_version"`
}

// ParseMapConfig decodes a remote map config. Any missing or non-positive
// dimension rejects the whole config so it never replaces a working one.
func (p *Parser) ParseMapConfig(data []byte) (core.MapCalibration, error) {
	var raw rawMapConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.MapCalibration{}, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if raw.Width == nil || raw.Height == nil {
		return core.MapCalibration{}, fmt.Errorf("missing width or height: %w", ErrMalformedConfig)
	}
	w, h := *raw.Width, *raw.Height
	if !finite(w) || !finite(h) || w <= 0 || h <= 0 {
		return core.MapCalibration{}, fmt.Errorf("invalid dimensions %vx%v: %w", w, h, ErrMalformedConfig)
	}

	cal := core.NewMapCalibration(w, h)
	cal.Version = versionString(raw.ConfigVersion)

	if raw.GeographicBounds != nil {
		if err := validateBounds(*raw.GeographicBounds); err != nil {
			return core.MapCalibration{}, err
		}
		b := *raw.GeographicBounds
		cal.Bounds = &b
	}

	p.logger.Debug("Parsed map config", "width", w, "height", h, "version", cal.Version)
	return cal, nil
}

// versionString accepts either a JSON string or number.
func versionString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func validateBounds(b core.GeoBounds) error {
	for name, c := range map[string]core.LatLng{
		"topLeft":     b.TopLeft,
		"topRight":    b.TopRight,
		"bottomRight": b.BottomRight,
		"bottomLeft":  b.BottomLeft,
	} {
		if !finite(c.Lat) || !finite(c.Lng) || c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
			return fmt.Errorf("geographic bound %s out of range: %w", name, ErrMalformedConfig)
		}
	}
	return nil
}
