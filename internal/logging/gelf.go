package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"

	"github.com/markerrelay/relay/internal/config"
)

// NewGraylogWriter opens a GELF UDP writer for cfg. It returns nil when
// shipping is disabled.
func NewGraylogWriter(cfg config.GraylogConfig) (*gelf.Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	w, err := gelf.NewWriter(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to create graylog writer: %w", err)
	}
	w.Facility = ServiceName
	return w, nil
}
