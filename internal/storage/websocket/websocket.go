// Package websocket streams session history to a remote server as JSON
// envelopes over a WebSocket connection.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/markerrelay/relay/pkg/core"
	"github.com/markerrelay/relay/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	Logger *slog.Logger
}

// Backend streams history over WebSocket.
// It implements storage.Backend but not storage.Exporter.
type Backend struct {
	stream *stream
	cfg    Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		stream: newStream(logger),
		cfg:    cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.stream.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.stream.shutdown()
}

// Dropped returns how many messages were discarded because the send queue was full.
func (b *Backend) Dropped() uint64 {
	return b.stream.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the stream without waiting for an ack.
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.stream.enqueue(data)
	return nil
}

// StartSession announces the session and waits for server ack.
func (b *Backend) StartSession(s *core.SessionInfo) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{
		SessionID:  s.ID,
		Started:    formatTime(s.Started),
		MapWidth:   s.MapWidth,
		MapHeight:  s.MapHeight,
		MapVersion: s.MapVersion,
	})
	if err != nil {
		return err
	}

	b.stream.setReplay(data)
	return b.stream.request(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for server ack.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	err = b.stream.request(data, streaming.TypeEndSession, ackTimeout)
	b.stream.setReplay(nil)
	return err
}

func (b *Backend) RecordTransition(t *core.Transition) error {
	return b.sendEnvelope(streaming.TypeTransition, streaming.TransitionPayload{
		MarkerID: t.MarkerID,
		Kind:     string(t.Kind),
		X:        t.X,
		Y:        t.Y,
		Rotation: t.Rotation,
		Cycle:    t.Cycle,
		Time:     formatTime(t.Time),
		Reason:   t.Reason,
		Geo:      t.Geo,
	})
}

func (b *Backend) RecordCycle(r *core.CycleReport) error {
	return b.sendEnvelope(streaming.TypeCycle, streaming.CyclePayload{
		Cycle:        r.Cycle,
		Time:         formatTime(r.Time),
		Observations: r.Observations,
		CornersSeen:  r.CornersSeen,
		HomographyOK: r.HomographyOK,
		Error:        r.HomographyErr,
		Projected:    r.Projected,
		PoseFailures: r.PoseFailures,
		Tracked:      r.Tracked,
		DurationMs:   float64(r.Duration) / float64(time.Millisecond),
	})
}

func (b *Backend) RecordSnapshot(s *core.SnapshotEvent) error {
	markers := s.Markers
	if markers == nil {
		markers = core.Snapshot{}
	}
	return b.sendEnvelope(streaming.TypeSnapshot, streaming.SnapshotPayload{
		Cycle:   s.Cycle,
		Time:    formatTime(s.Time),
		Markers: markers,
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
