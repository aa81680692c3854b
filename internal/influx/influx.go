// Package influx ships per-cycle and status telemetry to InfluxDB, falling
// back to a gzipped line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/markerrelay/relay/internal/config"
	"github.com/markerrelay/relay/pkg/core"
)

// ErrDisabled is returned by Connect when influx is turned off in config.
var ErrDisabled = errors.New("influx is disabled")

// Measurement names.
const (
	MeasurementCycle  = "relay_cycle"
	MeasurementStatus = "relay_status"
)

// retention for buckets created on first connect
const retentionSeconds = 60 * 60 * 24 * 90

// Status is the periodic health summary written by the monitor.
type Status struct {
	Time             time.Time
	Tracked          int
	LastCycle        uint64
	HomographyOK     bool
	Pushes           uint64
	PushFailures     uint64
	PendingHistory   int
	LastDBWriteMs    float64
	FramesMalformed  uint64
	CyclesSkipped    uint64
	MapConfigUpdates uint64
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	cfg       config.InfluxConfig
	sessionID string
	log       zerolog.Logger

	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backupPath string

	mu           sync.Mutex
	backupFile   *os.File
	backupWriter *gzip.Writer
	valid        bool
}

// NewManager creates a new InfluxDB manager. Points that cannot reach the
// server are appended to backupPath.
func NewManager(cfg config.InfluxConfig, sessionID string, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		sessionID:  sessionID,
		log:        log,
		backupPath: backupPath,
	}
}

// URL returns the server address built from config.
func (m *Manager) URL() string {
	return fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
}

// Connect establishes a connection to InfluxDB, opening the backup file when
// the server does not answer.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(
		m.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.log.Info().Str("backupPath", m.backupPath).Msg("Failed to initialize InfluxDB client, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}

	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.log.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(m.writer.Errors())

	m.mu.Lock()
	m.valid = true
	m.mu.Unlock()
	m.log.Info().Str("url", m.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("error creating organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.log.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
		rule := domain.RetentionRuleTypeExpire
		_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			return fmt.Errorf("error creating bucket %s: %w", m.cfg.Bucket, err)
		}
	}
	return nil
}

// IsValid reports whether points go to the server rather than the backup file.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WriteCycle records one processing cycle. Errors are logged, never returned,
// so telemetry cannot stall the processing loop.
func (m *Manager) WriteCycle(r core.CycleReport) {
	if err := m.WritePoint(CyclePoint(m.sessionID, r)); err != nil {
		m.log.Debug().Err(err).Uint64("cycle", r.Cycle).Msg("Dropped cycle telemetry")
	}
}

// WriteStatus records a monitor status sample.
func (m *Manager) WriteStatus(s Status) error {
	return m.WritePoint(StatusPoint(m.sessionID, s))
}

// Close flushes pending points and closes the backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer != nil {
		m.writer.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}

	var errs []error
	if m.backupWriter != nil {
		errs = append(errs, m.backupWriter.Close())
		errs = append(errs, m.backupFile.Close())
		m.backupWriter = nil
	}
	return errors.Join(errs...)
}

// CyclePoint builds the point for one cycle report.
func CyclePoint(sessionID string, r core.CycleReport) *influxdb2_write.Point {
	point := influxdb2_write.NewPointWithMeasurement(MeasurementCycle).
		AddTag("session", sessionID).
		AddTag("homography", okTag(r.HomographyOK)).
		AddField("cycle", r.Cycle).
		AddField("observations", r.Observations).
		AddField("corners_seen", r.CornersSeen).
		AddField("projected", r.Projected).
		AddField("pose_failures", r.PoseFailures).
		AddField("tracked", r.Tracked).
		AddField("duration_ms", float64(r.Duration)/float64(time.Millisecond)).
		SetTime(r.Time)
	if r.HomographyErr != "" {
		point.AddField("error", r.HomographyErr)
	}
	return point
}

// StatusPoint builds the point for a monitor status sample.
func StatusPoint(sessionID string, s Status) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementStatus).
		AddTag("session", sessionID).
		AddField("tracked", s.Tracked).
		AddField("last_cycle", s.LastCycle).
		AddField("homography_ok", s.HomographyOK).
		AddField("pushes", s.Pushes).
		AddField("push_failures", s.PushFailures).
		AddField("pending_history", s.PendingHistory).
		AddField("last_db_write_ms", s.LastDBWriteMs).
		AddField("frames_malformed", s.FramesMalformed).
		AddField("cycles_skipped", s.CyclesSkipped).
		AddField("map_config_updates", s.MapConfigUpdates).
		SetTime(s.Time)
}

func okTag(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
