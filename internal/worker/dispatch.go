package worker

import (
	"errors"
	"fmt"

	"github.com/markerrelay/relay/internal/dispatcher"
	"github.com/markerrelay/relay/pkg/core"
)

// Commands handled by the worker.
const (
	CommandFrame     = ":FRAME:"
	CommandMapConfig = ":MAP:CONFIG:"
)

// DefaultFrameQueue is the frame buffer size when none is configured.
const DefaultFrameQueue = 256

// ErrUnexpectedPayload is returned when an event carries the wrong payload type.
var ErrUnexpectedPayload = errors.New("unexpected payload")

// RegisterHandlers registers all event handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, frameQueue int) {
	if frameQueue <= 0 {
		frameQueue = DefaultFrameQueue
	}

	// Frames - one buffered queue so cycles are processed strictly in order;
	// blocking so a slow cycle applies back-pressure instead of losing frames.
	d.Register(CommandFrame, m.handleFrame, dispatcher.Buffered(frameQueue), dispatcher.Blocking(), dispatcher.Logged())

	// Map config refresh - sync, rare
	d.Register(CommandMapConfig, m.handleMapConfig, dispatcher.Logged())
}

func (m *Manager) handleFrame(e dispatcher.Event) (any, error) {
	var frame core.Frame
	switch p := e.Payload.(type) {
	case core.Frame:
		frame = p
	case []byte:
		f, err := m.deps.ParserService.ParseFrame(p)
		if err != nil {
			m.malformed.Add(1)
			return nil, fmt.Errorf("failed to parse frame: %w", err)
		}
		frame = f
	case string:
		f, err := m.deps.ParserService.ParseFrame([]byte(p))
		if err != nil {
			m.malformed.Add(1)
			return nil, fmt.Errorf("failed to parse frame: %w", err)
		}
		frame = f
	default:
		return nil, fmt.Errorf("%s: %w: %T", CommandFrame, ErrUnexpectedPayload, e.Payload)
	}

	m.frames.Add(1)
	report, err := m.deps.Processor.Process(frame)
	if err != nil {
		m.skipped.Add(1)
		return report, err
	}
	return report, nil
}

func (m *Manager) handleMapConfig(e dispatcher.Event) (any, error) {
	cal, ok := e.Payload.(core.MapCalibration)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %T", CommandMapConfig, ErrUnexpectedPayload, e.Payload)
	}

	changed := true
	if m.deps.Session != nil {
		changed = m.deps.Session.SetCalibration(cal)
	}
	if !changed {
		return false, nil
	}

	m.deps.Processor.SetCalibration(cal)
	m.mapUpdates.Add(1)
	m.logger.Info("map calibration updated",
		"width", cal.Width, "height", cal.Height, "version", cal.Version, "geo", cal.Bounds != nil)
	return true, nil
}
