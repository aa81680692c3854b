package influx

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerrelay/relay/internal/config"
	"github.com/markerrelay/relay/pkg/core"
)

func unreachableConfig(t *testing.T) config.InfluxConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return config.InfluxConfig{
		Enabled:  true,
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Org:      "marker-relay",
		Bucket:   "relay_metrics",
	}
}

func readBackup(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, "s1", zerolog.Nop(), filepath.Join(t.TempDir(), "b.gz"))
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.False(t, m.IsValid())
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, "s1", zerolog.Nop(), "")
	err := m.WritePoint(influxdb2_write.NewPointWithMeasurement("x").AddField("v", 1))
	assert.Error(t, err)
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "influx_backup.lp.gz")
	m := NewManager(unreachableConfig(t), "sess-1", zerolog.Nop(), backup)

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid())

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.WriteCycle(core.CycleReport{Cycle: 7, Time: at, Tracked: 3, HomographyOK: true, Duration: 2 * time.Millisecond})
	require.NoError(t, m.WriteStatus(Status{Time: at, Tracked: 3, LastCycle: 7}))
	require.NoError(t, m.Close())

	lines := readBackup(t, backup)
	assert.Contains(t, lines, MeasurementCycle+",")
	assert.Contains(t, lines, "homography=ok")
	assert.Contains(t, lines, "session=sess-1")
	assert.Contains(t, lines, "cycle=7u")
	assert.Contains(t, lines, MeasurementStatus+",")
	assert.Contains(t, lines, "last_cycle=7u")
}

func TestCyclePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := CyclePoint("abc", core.CycleReport{
		Cycle:         3,
		Time:          at,
		Observations:  5,
		HomographyErr: "corners missing",
		Duration:      1500 * time.Microsecond,
	})
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)

	assert.Contains(t, line, "homography=failed")
	assert.Contains(t, line, "duration_ms=1.5")
	assert.Contains(t, line, `error="corners missing"`)
	assert.Contains(t, line, "observations=5i")
}

func TestURL(t *testing.T) {
	m := NewManager(config.InfluxConfig{Protocol: "http", Host: "db", Port: "8086"}, "", zerolog.Nop(), "")
	assert.Equal(t, "http://db:8086", m.URL())
}
