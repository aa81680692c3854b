// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background DB writer goroutine. The postgres and
// sqlite backends wrap it with their own connection handling.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/markerrelay/relay/internal/database"
	"github.com/markerrelay/relay/internal/model"
	"github.com/markerrelay/relay/internal/model/convert"
	"github.com/markerrelay/relay/internal/queue"
	"github.com/markerrelay/relay/pkg/core"
)

// Defaults for the writer loop.
const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
	// queueLimit bounds each backlog while the database is unreachable.
	queueLimit = 100_000
)

// ErrNoSession is returned when history arrives before StartSession.
var ErrNoSession = errors.New("no session started")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB may be nil, in which case Open is used. With neither, records only
	// accumulate in the queues.
	DB            *gorm.DB
	Open          func() (*gorm.DB, error)
	Log           zerolog.Logger
	Clock         clock.Clock
	BatchSize     int
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Transitions *queue.Queue[model.MarkerTransition]
	Cycles      *queue.Queue[model.CycleStat]
	Snapshots   *queue.Queue[model.LayoutSnapshot]
}

func newQueues() *queues {
	return &queues{
		Transitions: queue.New[model.MarkerTransition](queueLimit),
		Cycles:      queue.New[model.CycleStat](queueLimit),
		Snapshots:   queue.New[model.LayoutSnapshot](queueLimit),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64

	stopChan chan struct{}
	wg       sync.WaitGroup
	flushMu  sync.Mutex
	closed   atomic.Bool

	lastWrite atomic.Int64 // nanoseconds
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.stopChan = make(chan struct{})
	if b.deps.DB == nil && b.deps.Open != nil {
		db, err := b.deps.Open()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		b.deps.DB = db
	}
	if b.deps.DB == nil {
		return nil
	}

	if err := database.Migrate(b.deps.DB, b.deps.Log); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

// Close stops the writer goroutine and flushes what is left.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.stopChan != nil {
		close(b.stopChan)
	}
	b.wg.Wait()
	return b.Flush()
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// StartSession inserts the session row synchronously so that queued history
// can reference it.
func (b *Backend) StartSession(s *core.SessionInfo) error {
	if b.deps.DB == nil {
		return nil
	}
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert new session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))
	b.deps.Log.Info().Str("session", s.ID).Uint("id", row.ID).Msg("Session started")
	return nil
}

// SetSessionID points the writer at an existing session row.
func (b *Backend) SetSessionID(id uint) {
	b.sessionID.Store(uint64(id))
}

// SessionID returns the current session row ID, 0 when none.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// EndSession flushes pending history and stamps the session end time.
func (b *Backend) EndSession() error {
	if b.deps.DB == nil {
		return nil
	}
	id := b.SessionID()
	if id == 0 {
		return ErrNoSession
	}
	if err := b.Flush(); err != nil {
		return err
	}
	now := b.deps.Clock.Now()
	if err := b.deps.DB.Model(&model.Session{}).Where("id = ?", id).Update("end_time", now).Error; err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordTransition converts and queues a marker transition.
func (b *Backend) RecordTransition(t *core.Transition) error {
	b.queues.Transitions.Push(convert.CoreToTransition(*t, 0))
	return nil
}

// RecordCycle converts and queues a cycle report.
func (b *Backend) RecordCycle(r *core.CycleReport) error {
	b.queues.Cycles.Push(convert.CoreToCycleStat(*r, 0))
	return nil
}

// RecordSnapshot converts and queues a layout snapshot.
func (b *Backend) RecordSnapshot(s *core.SnapshotEvent) error {
	b.queues.Snapshots.Push(convert.CoreToLayoutSnapshot(*s, 0))
	return nil
}

// GetLastDBWriteDuration returns how long the most recent flush took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Pending returns the number of queued rows not yet written.
func (b *Backend) Pending() int {
	return b.queues.Transitions.Len() + b.queues.Cycles.Len() + b.queues.Snapshots.Len()
}

// Flush writes every queue to the database. Rows that fail stay queued.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	sessionID := b.SessionID()
	if sessionID == 0 {
		// keep everything queued until there is a row to reference
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := b.deps.Clock.Now()
	errs := []error{
		writeQueue(b.deps.DB, b.queues.Transitions, "marker transitions", b.deps.BatchSize, func(items []model.MarkerTransition) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Cycles, "cycle stats", b.deps.BatchSize, func(items []model.CycleStat) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Snapshots, "layout snapshots", b.deps.BatchSize, func(items []model.LayoutSnapshot) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
	}
	b.lastWrite.Store(int64(b.deps.Clock.Since(start)))

	err := errors.Join(errs...)
	if err != nil {
		b.deps.Log.Error().Err(err).Msg("Error writing history")
	}
	return err
}

// writeQueue writes all items from a queue to the database, one transaction per batch.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, batch int, prepare func([]T)) error {
	for {
		items := q.Take(batch)
		if len(items) == 0 {
			return nil
		}
		prepare(items)

		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Omit("Session").Create(&items).Error
		})
		if err != nil {
			q.Requeue(items)
			return fmt.Errorf("error creating %s: %w", name, err)
		}
	}
}

// writeLoop periodically drains the queues into the DB.
func (b *Backend) writeLoop() {
	defer b.wg.Done()

	ticker := b.deps.Clock.Ticker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Flush()
		}
	}
}
