// Package ingest feeds detector frames and map-config refreshes into the
// dispatcher: line-delimited JSON from a stream, UDP datagrams, and periodic
// polling of the remote map configuration.
package ingest

import (
	"bytes"

	"github.com/markerrelay/relay/internal/dispatcher"
	"github.com/markerrelay/relay/internal/worker"
)

// Dispatcher is the part of dispatcher.Dispatcher the ingest layer needs.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// maxLineSize bounds a single detector line.
const maxLineSize = 1 << 20

// frameEvent copies line, since the caller's buffer is reused and buffered
// handlers read the payload later.
func frameEvent(line []byte) dispatcher.Event {
	payload := make([]byte, len(line))
	copy(payload, line)
	return dispatcher.Event{Command: worker.CommandFrame, Payload: payload}
}

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}
