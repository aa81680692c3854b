// pkg/core/snapshot.go
package core

import (
	"sort"
	"time"
)

// MarkerRecord is the wire representation of one tracked marker.
// Rotation is yaw in degrees.
type MarkerRecord struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
}

// Snapshot is the ordered set of markers present at one instant.
type Snapshot []MarkerRecord

// NewSnapshot copies records and sorts them by ID.
func NewSnapshot(records []MarkerRecord) Snapshot {
	s := make(Snapshot, len(records))
	copy(s, records)
	s.Sort()
	return s
}

// Sort orders the snapshot by marker ID.
func (s Snapshot) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

// Equal compares two snapshots by value. A nil and an empty snapshot are equal.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

// IDs returns the marker IDs in snapshot order.
func (s Snapshot) IDs() []int {
	ids := make([]int, len(s))
	for i, r := range s {
		ids[i] = r.ID
	}
	return ids
}

// SnapshotEvent is a layout that changed at a given cycle, as kept in history.
type SnapshotEvent struct {
	Cycle   uint64
	Time    time.Time
	Markers Snapshot
}
