package gormstorage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/markerrelay/relay/internal/model"
	"github.com/markerrelay/relay/internal/model/convert"
	"github.com/markerrelay/relay/pkg/core"
)

// ErrSessionNotFound is returned by LoadHistory for an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// History is everything recorded for one session, in cycle order.
type History struct {
	Session     core.SessionInfo
	Ended       bool
	Transitions []core.Transition
	Cycles      []core.CycleReport
	Snapshots   []core.SnapshotEvent
}

// LoadHistory reads a session back out of db. An empty sessionUUID selects
// the most recently started session.
func LoadHistory(db *gorm.DB, sessionUUID string) (History, error) {
	var session model.Session
	q := db.Model(&model.Session{})
	if sessionUUID != "" {
		q = q.Where("session_uuid = ?", sessionUUID)
	} else {
		q = q.Order("start_time DESC")
	}
	if err := q.First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return History{}, ErrSessionNotFound
		}
		return History{}, fmt.Errorf("error getting session: %w", err)
	}

	h := History{
		Session: convert.SessionToCore(session),
		Ended:   session.EndTime != nil,
	}

	var transitions []model.MarkerTransition
	err := db.Model(&model.MarkerTransition{}).
		Where("session_id = ?", session.ID).
		Order("cycle ASC, id ASC").
		Find(&transitions).Error
	if err != nil {
		return History{}, fmt.Errorf("error getting transitions: %w", err)
	}
	for _, t := range transitions {
		h.Transitions = append(h.Transitions, convert.TransitionToCore(t))
	}

	var cycles []model.CycleStat
	err = db.Model(&model.CycleStat{}).
		Where("session_id = ?", session.ID).
		Order("cycle ASC").
		Find(&cycles).Error
	if err != nil {
		return History{}, fmt.Errorf("error getting cycle stats: %w", err)
	}
	for _, c := range cycles {
		h.Cycles = append(h.Cycles, convert.CycleStatToCore(c, session.SessionUUID))
	}

	var snapshots []model.LayoutSnapshot
	err = db.Model(&model.LayoutSnapshot{}).
		Where("session_id = ?", session.ID).
		Order("cycle ASC").
		Find(&snapshots).Error
	if err != nil {
		return History{}, fmt.Errorf("error getting snapshots: %w", err)
	}
	for _, s := range snapshots {
		ev, err := convert.LayoutSnapshotToCore(s)
		if err != nil {
			return History{}, fmt.Errorf("snapshot at cycle %d: %w", s.Cycle, err)
		}
		h.Snapshots = append(h.Snapshots, ev)
	}

	return h, nil
}
