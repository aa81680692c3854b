package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/markerrelay/relay/internal/config"
	"github.com/markerrelay/relay/internal/storage"
	"github.com/markerrelay/relay/internal/storage/memory"
	pgstorage "github.com/markerrelay/relay/internal/storage/postgres"
	sqlitestorage "github.com/markerrelay/relay/internal/storage/sqlite"
	wsstorage "github.com/markerrelay/relay/internal/storage/websocket"
)

// storageDeps are the process-wide pieces the backends log and time with.
type storageDeps struct {
	Logger  *slog.Logger
	Zerolog zerolog.Logger
	Clock   clock.Clock
	Started time.Time
	APIURL  string
	APIKey  string
}

func createStorageBackend(cfg config.StorageConfig, deps storageDeps) (storage.Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		deps.Logger.Info("History storage disabled")
		return storage.Nop{}, nil

	case "memory":
		deps.Logger.Info("Memory storage backend initialized", "outputDir", cfg.Memory.OutputDir)
		return memory.New(cfg.Memory, deps.Logger), nil

	case "sqlite":
		dumpPath := cfg.SQLite.Path
		if dumpPath == "" {
			dumpPath = filepath.Join(".", fmt.Sprintf("%s_%s.db", AppName, deps.Started.Format("20060102_150405")))
		}
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
			BatchSize:    cfg.BatchSize,
			Flush:        cfg.Flush,
		}, deps.Zerolog.With().Str("backend", "sqlite").Logger(), deps.Clock)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		deps.Logger.Info("SQLite storage backend initialized", "dumpPath", dumpPath)
		return backend, nil

	case "postgres":
		deps.Logger.Info("Postgres storage backend initialized", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return pgstorage.New(pgstorage.Config{
			DB:        cfg.Postgres,
			BatchSize: cfg.BatchSize,
			Flush:     cfg.Flush,
		}, deps.Zerolog.With().Str("backend", "postgres").Logger(), deps.Clock), nil

	case "websocket":
		wsURL := cfg.WebSocket.URL
		if wsURL == "" {
			wsURL = httpToWS(deps.APIURL) + "/api/history"
		}
		secret := cfg.WebSocket.Secret
		if secret == "" {
			secret = deps.APIKey
		}
		deps.Logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: secret,
			Logger: deps.Logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// pendingRows reports queued history for backends that batch writes.
func pendingRows(b storage.Backend) func() int {
	if p, ok := b.(interface{ Pending() int }); ok {
		return p.Pending
	}
	return nil
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
