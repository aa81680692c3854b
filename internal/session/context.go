package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markerrelay/relay/pkg/core"
)

// Context holds the identity of the running session and the map calibration
// currently in force.
type Context struct {
	mu          sync.RWMutex
	id          string
	started     time.Time
	calibration core.MapCalibration
	refreshes   int
}

// NewContext creates a new Context with a fresh session ID.
func NewContext(cal core.MapCalibration) *Context {
	return &Context{
		id:          uuid.NewString(),
		started:     time.Now().UTC(),
		calibration: cal.Clone(),
	}
}

// ID returns the session identifier.
func (c *Context) ID() string {
	return c.id
}

// Started returns when the session began.
func (c *Context) Started() time.Time {
	return c.started
}

// Calibration returns a copy of the active calibration.
func (c *Context) Calibration() core.MapCalibration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calibration.Clone()
}

// SetCalibration replaces the active calibration. It reports whether the
// map geometry or version actually changed.
func (c *Context) SetCalibration(cal core.MapCalibration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	changed := !sameCalibration(c.calibration, cal)
	c.calibration = cal.Clone()
	return changed
}

// Refreshes counts accepted calibration updates.
func (c *Context) Refreshes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshes
}

// LogAttrs returns the attributes injected into every log record.
func (c *Context) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs := []slog.Attr{slog.String("session", c.id)}
	if c.calibration.Version != "" {
		attrs = append(attrs, slog.String("map_version", c.calibration.Version))
	}
	return attrs
}

func sameCalibration(a, b core.MapCalibration) bool {
	if a.Width != b.Width || a.Height != b.Height || a.Version != b.Version {
		return false
	}
	if (a.Bounds == nil) != (b.Bounds == nil) {
		return false
	}
	if a.Bounds != nil && *a.Bounds != *b.Bounds {
		return false
	}
	if len(a.Corners) != len(b.Corners) {
		return false
	}
	for id, p := range a.Corners {
		if q, ok := b.Corners[id]; !ok || q != p {
			return false
		}
	}
	return true
}
