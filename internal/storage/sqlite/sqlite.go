// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the only SQLite-specific concerns are creating
// the in-memory DB and the periodic disk dump.
package sqlitestorage

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/markerrelay/relay/internal/database"
	gormstorage "github.com/markerrelay/relay/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	// DSN selects the in-memory database; empty uses the shared default.
	DSN          string
	DumpInterval time.Duration
	DumpPath     string // Path for periodic VACUUM INTO dumps
	BatchSize    int
	Flush        time.Duration
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg      Config
	log      zerolog.Logger
	clock    clock.Clock
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a new SQLite storage backend.
func New(cfg Config, log zerolog.Logger, clk clock.Clock) (*Backend, error) {
	db, err := database.OpenSQLite(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		Log:           log,
		Clock:         clk,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.Flush,
	})

	return &Backend{
		Backend:  gormBackend,
		cfg:      cfg,
		log:      log,
		clock:    clk,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, flushes the embedded GORM backend and
// writes a final dump.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopChan)
		b.wg.Wait()
		if err = b.Backend.Close(); err != nil {
			return
		}
		if b.cfg.DumpPath != "" {
			err = b.Dump()
		}
	})
	return err
}

// Dump writes a point-in-time copy of the database to DumpPath.
func (b *Backend) Dump() error {
	d, err := database.TimedDump(b.DB(), b.cfg.DumpPath)
	if err != nil {
		b.log.Error().Err(err).Msg("Error dumping to disk")
		return err
	}
	b.log.Debug().Dur("duration", d).Str("path", b.cfg.DumpPath).Msg("Dumped to disk")
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()

	ticker := b.clock.Ticker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Flush()
			_ = b.Dump()
		}
	}
}
