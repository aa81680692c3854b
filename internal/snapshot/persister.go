// Package snapshot keeps the durable local copy of the current marker layout.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/markerrelay/relay/pkg/core"
)

// DefaultPath is where the snapshot lands when none is configured.
const DefaultPath = "marker_positions.json"

// Persister rewrites the snapshot file each cycle. A write goes to a temp file
// in the same directory and is renamed over the previous one, so readers only
// ever see a complete file.
type Persister struct {
	path string

	mu      sync.Mutex
	dirOK   bool
	written uint64
}

// NewPersister creates a persister for path.
func NewPersister(path string) *Persister {
	if path == "" {
		path = DefaultPath
	}
	return &Persister{path: path}
}

// Path returns the snapshot file path.
func (p *Persister) Path() string {
	return p.path
}

// Written returns how many snapshots have been written successfully.
func (p *Persister) Written() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Write replaces the snapshot file with s.
func (p *Persister) Write(s core.Snapshot) error {
	if s == nil {
		s = core.Snapshot{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if !p.dirOK {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		p.dirOK = true
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	p.written++
	return nil
}

// Load reads a snapshot file written by Write. The result is sorted by ID.
// A missing file returns an error wrapping os.ErrNotExist.
func Load(path string) (core.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var records []core.MarkerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return core.NewSnapshot(records), nil
}
