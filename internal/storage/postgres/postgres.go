// Package postgres implements the storage.Backend interface on a
// PostgreSQL/PostGIS database through the GORM backend.
package postgres

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/markerrelay/relay/internal/config"
	"github.com/markerrelay/relay/internal/database"
	gormstorage "github.com/markerrelay/relay/internal/storage/gorm"
)

// Config holds configuration for the Postgres storage backend.
type Config struct {
	DB        config.DBConfig
	BatchSize int
	Flush     time.Duration
}

// New creates a GORM backend that connects to Postgres on Init.
func New(cfg Config, log zerolog.Logger, clk clock.Clock) *gormstorage.Backend {
	return gormstorage.New(gormstorage.Dependencies{
		Open: func() (*gorm.DB, error) {
			log.Debug().Str("host", cfg.DB.Host).Str("database", cfg.DB.Database).Msg("Connecting to Postgres DB")
			return database.OpenPostgres(cfg.DB)
		},
		Log:           log,
		Clock:         clk,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.Flush,
	})
}
