package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerrelay/relay/pkg/core"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func cycle(n uint64, updates ...Update) Cycle {
	return Cycle{Number: n, Time: t0.Add(time.Duration(n) * time.Second), Updates: updates}
}

func at(id int, x, y, yaw float64) Update {
	return Update{ID: id, Position: r2.Point{X: x, Y: y}, Yaw: yaw}
}

func TestTracker_New(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	require.NotNil(t, tr)
	assert.NotNil(t, tr.states)
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Snapshot())
}

func TestTracker_PresentThreeCyclesThenAbsent(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	var present []bool
	for n := uint64(1); n <= 3; n++ {
		tr.Apply(cycle(n, at(7, 10, 5, 0)))
		present = append(present, len(tr.Snapshot()) == 1)
	}
	tr.Apply(cycle(4))
	present = append(present, len(tr.Snapshot()) == 1)

	assert.Equal(t, []bool{true, true, true, false}, present)
	_, ok := tr.Get(7)
	assert.False(t, ok)
}

func TestTracker_BoundsAreInclusive(t *testing.T) {
	cal := core.DefaultMapCalibration()
	tr := New(cal)

	tr.Apply(cycle(1,
		at(10, 0, 0, 0),
		at(11, cal.Width, cal.Height, 0),
		at(12, cal.Width/2, cal.Height/2, 0),
		at(13, cal.Width+1e-9, 1, 0),
		at(14, 1, -1e-9, 0),
	))

	assert.Equal(t, []int{10, 11, 12}, tr.Snapshot().IDs())
}

func TestTracker_OutOfBoundsRemovesImmediately(t *testing.T) {
	tr := New(core.DefaultMapCalibration(), WithGracePeriod(5))

	tr.Apply(cycle(1, at(4, 5, 5, 0)))
	require.Equal(t, 1, tr.Len())

	transitions := tr.Apply(cycle(2, at(4, 40, 5, 0)))
	assert.Equal(t, 0, tr.Len())
	require.Len(t, transitions, 1)
	assert.Equal(t, core.TransitionExit, transitions[0].Kind)
	assert.Equal(t, core.ReasonOutOfBounds, transitions[0].Reason)
}

func TestTracker_CornerIDsNeverTracked(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	tr.Apply(cycle(1, at(0, 0, 0, 0), at(1, 35, 0, 0), at(2, 1, 1, 0), at(3, 2, 2, 0), at(5, 3, 3, 0)))
	assert.Equal(t, []int{5}, tr.Snapshot().IDs())
}

func TestTracker_LastObservationWins(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	tr.Apply(cycle(1, at(9, 1, 1, 10)))
	transitions := tr.Apply(cycle(2, at(9, 2, 3, -45)))

	require.Len(t, transitions, 1)
	assert.Equal(t, core.TransitionUpdate, transitions[0].Kind)
	assert.Equal(t, core.Snapshot{{ID: 9, X: 2, Y: 3, Rotation: -45}}, tr.Snapshot())

	st, ok := tr.Get(9)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), st.FirstSeen)
	assert.Equal(t, t0.Add(2*time.Second), st.LastSeen)
	assert.Equal(t, uint64(2), st.LastCycle)
}

func TestTracker_UnchangedEmitsNoTransition(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	first := tr.Apply(cycle(1, at(9, 1, 1, 10)))
	require.Len(t, first, 1)
	assert.Equal(t, core.TransitionEnter, first[0].Kind)

	assert.Empty(t, tr.Apply(cycle(2, at(9, 1, 1, 10))))
}

func TestTracker_SnapshotSortedByID(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	tr.Apply(cycle(1, at(42, 1, 1, 0), at(7, 2, 2, 0), at(19, 3, 3, 0)))
	assert.Equal(t, []int{7, 19, 42}, tr.Snapshot().IDs())
}

func TestTracker_SnapshotIsOwnedCopy(t *testing.T) {
	tr := New(core.DefaultMapCalibration())
	tr.Apply(cycle(1, at(7, 2, 2, 0)))

	s := tr.Snapshot()
	s[0].X = 999

	assert.Equal(t, 2.0, tr.Snapshot()[0].X)
}

func TestTracker_GracePeriod(t *testing.T) {
	tr := New(core.DefaultMapCalibration(), WithGracePeriod(2))

	tr.Apply(cycle(1, at(7, 2, 2, 0)))
	tr.Apply(cycle(2))
	tr.Apply(cycle(3))
	assert.Equal(t, 1, tr.Len(), "kept through two missed cycles")

	transitions := tr.Apply(cycle(4))
	assert.Equal(t, 0, tr.Len())
	require.Len(t, transitions, 1)
	assert.Equal(t, core.ReasonMissing, transitions[0].Reason)
}

func TestTracker_GracePeriodResetsOnSighting(t *testing.T) {
	tr := New(core.DefaultMapCalibration(), WithGracePeriod(1))

	tr.Apply(cycle(1, at(7, 2, 2, 0)))
	tr.Apply(cycle(2))
	tr.Apply(cycle(3, at(7, 2, 2, 0)))
	tr.Apply(cycle(4))

	st, ok := tr.Get(7)
	require.True(t, ok)
	assert.Equal(t, 1, st.Missed)
}

func TestTracker_ExitTransitionsSorted(t *testing.T) {
	tr := New(core.DefaultMapCalibration())
	tr.Apply(cycle(1, at(30, 1, 1, 0), at(10, 1, 1, 0), at(20, 1, 1, 0)))

	transitions := tr.Apply(cycle(2))
	require.Len(t, transitions, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{transitions[0].MarkerID, transitions[1].MarkerID, transitions[2].MarkerID})
	for _, x := range transitions {
		assert.Equal(t, core.TransitionExit, x.Kind)
		assert.Equal(t, uint64(2), x.Cycle)
	}
}

func TestTracker_SetCalibrationDropsNewCorners(t *testing.T) {
	tr := New(core.DefaultMapCalibration())
	tr.Apply(cycle(1, at(5, 1, 1, 0), at(6, 2, 2, 0)))

	cal := core.DefaultMapCalibration()
	cal.Corners[5] = r2.Point{X: 10, Y: 10}
	transitions := tr.SetCalibration(cal, cycle(2))

	assert.Equal(t, []int{6}, tr.Snapshot().IDs())
	require.Len(t, transitions, 1)
	assert.Equal(t, 5, transitions[0].MarkerID)
	assert.Equal(t, core.TransitionExit, transitions[0].Kind)
	assert.Equal(t, core.ReasonRecalibrated, transitions[0].Reason)
}

func TestTracker_SetCalibrationDropsOutOfBounds(t *testing.T) {
	tr := New(core.DefaultMapCalibration())
	tr.Apply(cycle(1, at(9, 30, 20, 45), at(6, 2, 2, 0), at(8, 12, 3, 0)))

	transitions := tr.SetCalibration(core.NewMapCalibration(10, 10), cycle(2))

	assert.Equal(t, []int{6}, tr.Snapshot().IDs())
	require.Len(t, transitions, 2)
	assert.Equal(t, []int{8, 9}, []int{transitions[0].MarkerID, transitions[1].MarkerID})
	for _, x := range transitions {
		assert.Equal(t, core.TransitionExit, x.Kind)
		assert.Equal(t, core.ReasonOutOfBounds, x.Reason)
		assert.Equal(t, uint64(2), x.Cycle)
		assert.Equal(t, t0.Add(2*time.Second), x.Time)
	}
	assert.Equal(t, 45.0, transitions[1].Rotation)

	assert.Empty(t, tr.Apply(cycle(3, at(6, 2, 2, 0))), "dropped markers do not exit twice")
}

func TestTracker_Restore(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	n := tr.Restore(core.Snapshot{
		{ID: 2, X: 1, Y: 1},
		{ID: 8, X: 3, Y: 4, Rotation: 90},
		{ID: 9, X: 300, Y: 4},
	}, t0)

	assert.Equal(t, 1, n)
	assert.Equal(t, core.Snapshot{{ID: 8, X: 3, Y: 4, Rotation: 90}}, tr.Snapshot())

	tr.Apply(cycle(1))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_Reset(t *testing.T) {
	tr := New(core.DefaultMapCalibration())
	tr.Apply(cycle(1, at(7, 2, 2, 0)))
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_ConcurrentReaders(t *testing.T) {
	tr := New(core.DefaultMapCalibration())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s := tr.Snapshot()
					for j := 1; j < len(s); j++ {
						if s[j-1].ID >= s[j].ID {
							t.Errorf("snapshot not sorted: %v", s.IDs())
							return
						}
					}
				}
			}
		}()
	}

	for n := uint64(1); n <= 200; n++ {
		tr.Apply(cycle(n, at(int(n%13)+4, float64(n%30), 1, 0), at(int(n%7)+20, 2, 2, 0)))
	}
	close(stop)
	wg.Wait()
}
