// pkg/core/session.go
package core

import "time"

// SessionInfo identifies one run of the relay for history backends.
type SessionInfo struct {
	ID         string
	Started    time.Time
	MapWidth   float64
	MapHeight  float64
	MapVersion string
}
