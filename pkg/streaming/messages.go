// Package streaming defines the envelopes exchanged with a history server
// over WebSocket.
package streaming

import (
	"encoding/json"

	"github.com/markerrelay/relay/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeTransition   = "marker_transition"
	TypeCycle        = "cycle_report"
	TypeSnapshot     = "layout_snapshot"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces a new relay session.
type StartSessionPayload struct {
	SessionID  string  `json:"sessionId"`
	Started    string  `json:"started"`
	MapWidth   float64 `json:"mapWidth"`
	MapHeight  float64 `json:"mapHeight"`
	MapVersion string  `json:"mapVersion,omitempty"`
}

// TransitionPayload is one marker lifecycle change.
type TransitionPayload struct {
	MarkerID int          `json:"markerId"`
	Kind     string       `json:"kind"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Rotation float64      `json:"rotation"`
	Cycle    uint64       `json:"cycle"`
	Time     string       `json:"time"`
	Reason   string       `json:"reason,omitempty"`
	Geo      *core.LatLng `json:"geo,omitempty"`
}

// CyclePayload is the per-cycle processing summary.
type CyclePayload struct {
	Cycle        uint64  `json:"cycle"`
	Time         string  `json:"time"`
	Observations int     `json:"observations"`
	CornersSeen  int     `json:"cornersSeen"`
	HomographyOK bool    `json:"homographyOk"`
	Error        string  `json:"error,omitempty"`
	Projected    int     `json:"projected"`
	PoseFailures int     `json:"poseFailures"`
	Tracked      int     `json:"tracked"`
	DurationMs   float64 `json:"durationMs"`
}

// SnapshotPayload is a changed layout.
type SnapshotPayload struct {
	Cycle   uint64        `json:"cycle"`
	Time    string        `json:"time"`
	Markers core.Snapshot `json:"markers"`
}
