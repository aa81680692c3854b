// Package parser decodes the wire formats coming from the marker detector and
// the remote map-config endpoint into core types. No I/O happens here.
package parser

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/markerrelay/relay/pkg/core"
)

var (
	// ErrMalformedFrame is returned for detector lines that cannot be used.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrMalformedConfig is returned for map configs that must not replace the active one.
	ErrMalformedConfig = errors.New("malformed config")
)

// Service is the parsing surface used by the worker and ingest layers.
type Service interface {
	ParseFrame(line []byte) (core.Frame, error)
	ParseMapConfig(data []byte) (core.MapCalibration, error)
}

// Parser converts raw payloads to core types. Frames without a cycle number
// are numbered from an internal counter.
type Parser struct {
	logger *slog.Logger
	cycle  atomic.Uint64
	now    func() time.Time
}

// NewParser creates a new parser with only a logger dependency.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger: logger,
		now:    time.Now,
	}
}

var _ Service = (*Parser)(nil)
