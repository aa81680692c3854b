// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/markerrelay/relay/pkg/core"
)

// ExportVersion identifies the history file layout.
const ExportVersion = "1"

// HistoryExport is the root JSON structure
type HistoryExport struct {
	Version   string         `json:"version"`
	Session   SessionJSON    `json:"session"`
	Markers   []MarkerJSON   `json:"markers"`
	Cycles    []CycleJSON    `json:"cycles"`
	Snapshots []SnapshotJSON `json:"snapshots"`
}

// SessionJSON describes the recorded session
type SessionJSON struct {
	ID         string  `json:"id"`
	Started    string  `json:"started"`
	MapWidth   float64 `json:"mapWidth"`
	MapHeight  float64 `json:"mapHeight"`
	MapVersion string  `json:"mapVersion,omitempty"`
	EndCycle   uint64  `json:"endCycle"`
}

// MarkerJSON is the lifecycle of one marker
type MarkerJSON struct {
	ID         int      `json:"id"`
	FirstCycle uint64   `json:"firstCycle"`
	LastCycle  uint64   `json:"lastCycle"`
	Entries    int      `json:"entries"`
	Exits      int      `json:"exits"`
	Positions  [][]any  `json:"positions"` // [cycle, x, y, rotation, kind]
	Geo        [][]any  `json:"geo,omitempty"`
	ExitCauses []string `json:"exitCauses,omitempty"`
}

// CycleJSON is a compact cycle report
type CycleJSON struct {
	Cycle        uint64  `json:"cycle"`
	Observations int     `json:"observations"`
	CornersSeen  int     `json:"cornersSeen"`
	HomographyOK bool    `json:"homographyOk"`
	Error        string  `json:"error,omitempty"`
	Tracked      int     `json:"tracked"`
	DurationMs   float64 `json:"durationMs"`
}

// SnapshotJSON is a layout at the cycle it changed
type SnapshotJSON struct {
	Cycle   uint64        `json:"cycle"`
	Markers core.Snapshot `json:"markers"`
}

// Build assembles the export from raw history. Transitions may arrive in any
// order; they are grouped by marker and sorted by cycle.
func Build(s core.SessionInfo, transitions []core.Transition, cycles []core.CycleReport, snapshots []core.SnapshotEvent) HistoryExport {
	export := HistoryExport{
		Version: ExportVersion,
		Session: SessionJSON{
			ID:         s.ID,
			Started:    s.Started.UTC().Format(time.RFC3339Nano),
			MapWidth:   s.MapWidth,
			MapHeight:  s.MapHeight,
			MapVersion: s.MapVersion,
		},
		Markers:   make([]MarkerJSON, 0),
		Cycles:    make([]CycleJSON, 0, len(cycles)),
		Snapshots: make([]SnapshotJSON, 0, len(snapshots)),
	}

	byMarker := make(map[int][]core.Transition)
	for _, t := range transitions {
		byMarker[t.MarkerID] = append(byMarker[t.MarkerID], t)
	}
	ids := make([]int, 0, len(byMarker))
	for id := range byMarker {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var maxCycle uint64
	for _, id := range ids {
		ts := byMarker[id]
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].Cycle < ts[j].Cycle })

		m := MarkerJSON{
			ID:         id,
			FirstCycle: ts[0].Cycle,
			LastCycle:  ts[len(ts)-1].Cycle,
			Positions:  make([][]any, 0, len(ts)),
		}
		for _, t := range ts {
			switch t.Kind {
			case core.TransitionEnter:
				m.Entries++
			case core.TransitionExit:
				m.Exits++
				m.ExitCauses = append(m.ExitCauses, t.Reason)
			}
			m.Positions = append(m.Positions, []any{t.Cycle, t.X, t.Y, t.Rotation, string(t.Kind)})
			if t.Geo != nil {
				m.Geo = append(m.Geo, []any{t.Cycle, t.Geo.Lat, t.Geo.Lng})
			}
		}
		if m.LastCycle > maxCycle {
			maxCycle = m.LastCycle
		}
		export.Markers = append(export.Markers, m)
	}

	for _, r := range cycles {
		export.Cycles = append(export.Cycles, CycleJSON{
			Cycle:        r.Cycle,
			Observations: r.Observations,
			CornersSeen:  r.CornersSeen,
			HomographyOK: r.HomographyOK,
			Error:        r.HomographyErr,
			Tracked:      r.Tracked,
			DurationMs:   float64(r.Duration) / float64(time.Millisecond),
		})
		if r.Cycle > maxCycle {
			maxCycle = r.Cycle
		}
	}

	for _, s := range snapshots {
		markers := s.Markers
		if markers == nil {
			markers = core.Snapshot{}
		}
		export.Snapshots = append(export.Snapshots, SnapshotJSON{Cycle: s.Cycle, Markers: markers})
	}

	export.Session.EndCycle = maxCycle
	return export
}

// FileName returns the export file name for a session.
func FileName(s SessionJSON, compress bool) string {
	started, err := time.Parse(time.RFC3339Nano, s.Started)
	if err != nil {
		started = time.Time{}
	}
	id := strings.ReplaceAll(s.ID, ":", "_")
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("session_%s_%s.json", started.Format("20060102_150405"), id)
	if compress {
		name += ".gz"
	}
	return name
}

// WriteExport writes the export into dir and returns the file path.
func WriteExport(dir string, export HistoryExport, compress bool) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, FileName(export.Session, compress))
	if err := WriteFile(path, export, compress); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes the export to path, gzip-compressed when compress is set.
func WriteFile(path string, export HistoryExport, compress bool) error {
	if compress {
		return writeGzipJSON(path, export)
	}
	return writeJSON(path, export)
}

// ReadFile loads an export, transparently decompressing .gz files.
func ReadFile(path string) (HistoryExport, error) {
	var export HistoryExport

	f, err := os.Open(path)
	if err != nil {
		return export, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return export, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return export, fmt.Errorf("failed to decode export: %w", err)
	}
	return export, nil
}

func writeJSON(path string, data HistoryExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data HistoryExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
