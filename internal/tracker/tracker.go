// Package tracker owns the per-marker lifecycle state: which markers are
// currently on the map, where, and facing which way.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/markerrelay/relay/pkg/core"
)

// State is the lifecycle record of one marker that is on the map.
type State struct {
	ID        int
	Position  r2.Point
	Yaw       float64
	FirstSeen time.Time
	LastSeen  time.Time
	LastCycle uint64
	// Missed counts consecutive cycles without an observation; only non-zero with a grace period.
	Missed int
}

// Update is one projected marker for the current cycle.
type Update struct {
	ID       int
	Position r2.Point
	Yaw      float64
}

// Cycle is everything the tracker needs to reconcile one processing cycle.
type Cycle struct {
	Number  uint64
	Time    time.Time
	Updates []Update
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGracePeriod keeps a marker that stops being observed for up to n further
// cycles before removing it. Out-of-bounds projections still remove immediately.
// The default of 0 removes a marker the first cycle it is missing.
func WithGracePeriod(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.graceCycles = n
		}
	}
}

// Tracker is the single owner of marker state. The processing loop writes via
// Apply; everything else reads copies via Snapshot.
type Tracker struct {
	mu          sync.RWMutex
	cal         core.MapCalibration
	states      map[int]*State
	graceCycles int
}

// New creates a Tracker bounded by the given calibration.
func New(cal core.MapCalibration, opts ...Option) *Tracker {
	t := &Tracker{
		cal:    cal.Clone(),
		states: make(map[int]*State),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetCalibration swaps the map bounds and reserved corner IDs. Records that
// now fall outside the map, or whose ID became a corner, leave immediately and
// their exits are returned stamped with c's number and time.
func (t *Tracker) SetCalibration(cal core.MapCalibration, c Cycle) []core.Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cal = cal.Clone()

	ids := make([]int, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var transitions []core.Transition
	for _, id := range ids {
		st := t.states[id]
		switch {
		case t.cal.IsCorner(id):
			delete(t.states, id)
			transitions = append(transitions, exitTransition(st, c, core.ReasonRecalibrated))
		case !t.cal.Contains(st.Position):
			delete(t.states, id)
			transitions = append(transitions, exitTransition(st, c, core.ReasonOutOfBounds))
		}
	}
	return transitions
}

// Apply reconciles one cycle of projected markers and returns the transitions it caused.
func (t *Tracker) Apply(c Cycle) []core.Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var transitions []core.Transition
	seen := make(map[int]bool, len(c.Updates))

	for _, u := range c.Updates {
		if t.cal.IsCorner(u.ID) {
			continue
		}
		seen[u.ID] = true
		st, exists := t.states[u.ID]

		if !t.cal.Contains(u.Position) {
			if exists {
				delete(t.states, u.ID)
				transitions = append(transitions, exitTransition(st, c, core.ReasonOutOfBounds))
			}
			continue
		}

		if !exists {
			st = &State{ID: u.ID, FirstSeen: c.Time}
			t.states[u.ID] = st
			st.Position, st.Yaw = u.Position, u.Yaw
			transitions = append(transitions, transition(st, c, core.TransitionEnter))
		} else if st.Position != u.Position || st.Yaw != u.Yaw {
			st.Position, st.Yaw = u.Position, u.Yaw
			transitions = append(transitions, transition(st, c, core.TransitionUpdate))
		}
		st.LastSeen = c.Time
		st.LastCycle = c.Number
		st.Missed = 0
	}

	missing := make([]int, 0, len(t.states))
	for id := range t.states {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Ints(missing)
	for _, id := range missing {
		st := t.states[id]
		st.Missed++
		if st.Missed > t.graceCycles {
			delete(t.states, id)
			transitions = append(transitions, exitTransition(st, c, core.ReasonMissing))
		}
	}

	return transitions
}

// Snapshot returns an owned, ID-sorted copy of every present marker.
func (t *Tracker) Snapshot() core.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := make(core.Snapshot, 0, len(t.states))
	for _, st := range t.states {
		s = append(s, core.MarkerRecord{
			ID:       st.ID,
			X:        st.Position.X,
			Y:        st.Position.Y,
			Rotation: st.Yaw,
		})
	}
	s.Sort()
	return s
}

// Get returns a copy of the state of one marker.
func (t *Tracker) Get(id int) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Len returns the number of markers on the map.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// Restore seeds state from a recovered snapshot. Records that are corners or
// out of bounds are ignored; the rest are reconciled on the next Apply.
func (t *Tracker) Restore(s core.Snapshot, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range s {
		p := r2.Point{X: r.X, Y: r.Y}
		if t.cal.IsCorner(r.ID) || !t.cal.Contains(p) {
			continue
		}
		t.states[r.ID] = &State{ID: r.ID, Position: p, Yaw: r.Rotation, FirstSeen: at, LastSeen: at}
		n++
	}
	return n
}

// Reset clears all markers.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[int]*State)
}

func transition(st *State, c Cycle, kind core.TransitionKind) core.Transition {
	return core.Transition{
		MarkerID: st.ID,
		Kind:     kind,
		X:        st.Position.X,
		Y:        st.Position.Y,
		Rotation: st.Yaw,
		Cycle:    c.Number,
		Time:     c.Time,
	}
}

func exitTransition(st *State, c Cycle, reason string) core.Transition {
	tr := transition(st, c, core.TransitionExit)
	tr.Reason = reason
	return tr
}
