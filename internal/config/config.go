package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "marker_relay.cfg.json"

// APIConfig holds the remote layout service settings
type APIConfig struct {
	ServerURL     string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey        string `json:"apiKey" mapstructure:"apiKey"`
	PushPath      string `json:"pushPath" mapstructure:"pushPath"`
	MapConfigPath string `json:"mapConfigPath" mapstructure:"mapConfigPath"`
	HealthPath    string `json:"healthPath" mapstructure:"healthPath"`
}

// SyncConfig holds push scheduling settings
type SyncConfig struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxBackoff time.Duration
}

// SnapshotConfig holds the local snapshot file settings
type SnapshotConfig struct {
	Path    string
	Restore bool
}

// MapConfig holds the fallback map size and refresh cadence
type MapConfig struct {
	Width           float64
	Height          float64
	RefreshInterval time.Duration
	Anchor          string
}

// PoseConfig holds the camera calibration used for yaw estimation
type PoseConfig struct {
	CalibrationFile string
	MarkerLength    float64
}

// TrackerConfig holds lifecycle tracking settings
type TrackerConfig struct {
	GraceCycles int
}

// IngestConfig holds frame input settings
type IngestConfig struct {
	Input      string
	Rate       float64
	FrameQueue int
	UDPRcvBuf  int
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string
	DumpInterval time.Duration
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// WebSocketConfig holds streaming backend settings
type WebSocketConfig struct {
	URL    string
	Secret string
}

// StorageConfig holds history storage settings
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	Postgres  DBConfig
	WebSocket WebSocketConfig
	BatchSize int
	Flush     time.Duration
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// MonitorConfig holds status reporting settings
type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// SetDefaults registers the default for every known key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./relaylogs")

	viper.SetDefault("api.serverUrl", "http://localhost:8000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.pushPath", "/api/update-marker-positions/")
	viper.SetDefault("api.mapConfigPath", "/api/map-config/")
	viper.SetDefault("api.healthPath", "/api/healthcheck/")

	viper.SetDefault("sync.interval", "1s")
	viper.SetDefault("sync.timeout", "2s")
	viper.SetDefault("sync.maxBackoff", "0s")

	viper.SetDefault("snapshot.path", "marker_positions.json")
	viper.SetDefault("snapshot.restore", false)

	viper.SetDefault("map.width", 35.0)
	viper.SetDefault("map.height", 23.0)
	viper.SetDefault("map.refreshInterval", "0s")
	viper.SetDefault("map.anchor", "corner")

	viper.SetDefault("pose.calibrationFile", "")
	viper.SetDefault("pose.markerLength", 0.05)

	viper.SetDefault("tracker.graceCycles", 0)

	viper.SetDefault("ingest.input", "-")
	viper.SetDefault("ingest.rate", 0.0)
	viper.SetDefault("ingest.frameQueue", 256)
	viper.SetDefault("ingest.udpRcvBuf", 0)

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.batchSize", 500)
	viper.SetDefault("storage.flushInterval", "1s")
	viper.SetDefault("storage.memory.outputDir", "./history")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./history.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "marker_relay")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "marker-relay")
	viper.SetDefault("influx.bucket", "relay_metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "marker-relay")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "5s")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetAPIConfig returns the remote service settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL:     viper.GetString("api.serverUrl"),
		APIKey:        viper.GetString("api.apiKey"),
		PushPath:      viper.GetString("api.pushPath"),
		MapConfigPath: viper.GetString("api.mapConfigPath"),
		HealthPath:    viper.GetString("api.healthPath"),
	}
}

// GetSyncConfig returns the push scheduling settings.
func GetSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:   viper.GetDuration("sync.interval"),
		Timeout:    viper.GetDuration("sync.timeout"),
		MaxBackoff: viper.GetDuration("sync.maxBackoff"),
	}
}

// GetSnapshotConfig returns the local snapshot settings.
func GetSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Path:    viper.GetString("snapshot.path"),
		Restore: viper.GetBool("snapshot.restore"),
	}
}

// GetMapConfig returns the fallback map settings.
func GetMapConfig() MapConfig {
	return MapConfig{
		Width:           viper.GetFloat64("map.width"),
		Height:          viper.GetFloat64("map.height"),
		RefreshInterval: viper.GetDuration("map.refreshInterval"),
		Anchor:          viper.GetString("map.anchor"),
	}
}

// GetPoseConfig returns the pose estimation settings.
func GetPoseConfig() PoseConfig {
	return PoseConfig{
		CalibrationFile: viper.GetString("pose.calibrationFile"),
		MarkerLength:    viper.GetFloat64("pose.markerLength"),
	}
}

// GetTrackerConfig returns the lifecycle tracking settings.
func GetTrackerConfig() TrackerConfig {
	return TrackerConfig{GraceCycles: viper.GetInt("tracker.graceCycles")}
}

// GetIngestConfig returns the frame input settings.
func GetIngestConfig() IngestConfig {
	return IngestConfig{
		Input:      viper.GetString("ingest.input"),
		Rate:       viper.GetFloat64("ingest.rate"),
		FrameQueue: viper.GetInt("ingest.frameQueue"),
		UDPRcvBuf:  viper.GetInt("ingest.udpRcvBuf"),
	}
}

// GetStorageConfig returns the history storage settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: GetDBConfig(),
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
		BatchSize: viper.GetInt("storage.batchSize"),
		Flush:     viper.GetDuration("storage.flushInterval"),
	}
}

// GetDBConfig returns the Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetMonitorConfig returns the status reporting settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
	}
}
