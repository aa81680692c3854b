package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/benbjohnson/clock"
	"github.com/spf13/viper"

	"github.com/markerrelay/relay/internal/api"
	"github.com/markerrelay/relay/internal/config"
	"github.com/markerrelay/relay/internal/dispatcher"
	"github.com/markerrelay/relay/internal/influx"
	"github.com/markerrelay/relay/internal/ingest"
	"github.com/markerrelay/relay/internal/logging"
	"github.com/markerrelay/relay/internal/monitor"
	intOtel "github.com/markerrelay/relay/internal/otel"
	"github.com/markerrelay/relay/internal/parser"
	"github.com/markerrelay/relay/internal/pipeline"
	"github.com/markerrelay/relay/internal/pose"
	"github.com/markerrelay/relay/internal/session"
	"github.com/markerrelay/relay/internal/snapshot"
	"github.com/markerrelay/relay/internal/storage"
	"github.com/markerrelay/relay/internal/syncer"
	"github.com/markerrelay/relay/internal/tracker"
	"github.com/markerrelay/relay/internal/worker"
	"github.com/markerrelay/relay/pkg/core"
)

// udpScheme marks an ingest input as a UDP listen address.
const udpScheme = "udp://"

// app wires every service of one relay run.
type app struct {
	clock   clock.Clock
	started time.Time

	logFile *os.File
	logs    *logging.SlogManager
	logger  *slog.Logger
	otel    *intOtel.Provider
	graylog *gelf.Writer

	session    *session.Context
	tracker    *tracker.Tracker
	pipeDeps   pipeline.Dependencies
	anchor     pipeline.Anchor
	persister  *snapshot.Persister
	processor  *pipeline.Processor
	dispatcher *dispatcher.Dispatcher
	worker     *worker.Manager
	backend    storage.Backend
	influx     *influx.Manager
	client     *api.Client
	syncer     *syncer.Scheduler
	refresher  *ingest.Refresher
	monitor    *monitor.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newApp builds the services from the loaded config. Nothing runs until start.
func newApp(ctx context.Context, clk clock.Clock) (*app, error) {
	if clk == nil {
		clk = clock.New()
	}
	a := &app{clock: clk, started: clk.Now().UTC()}

	mapCfg := config.GetMapConfig()
	cal := core.NewMapCalibration(mapCfg.Width, mapCfg.Height)
	a.session = session.NewContext(cal)

	if err := a.setupLogging(ctx); err != nil {
		return nil, err
	}

	if err := a.setupCore(cal, mapCfg); err != nil {
		a.closeLogging(ctx)
		return nil, err
	}

	if err := a.setupStorage(ctx); err != nil {
		a.closeLogging(ctx)
		return nil, err
	}

	if err := a.setupServices(); err != nil {
		_ = a.backend.Close()
		a.closeLogging(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) setupLogging(ctx context.Context) error {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	path := logging.LogFilePath(logsDir, AppName, a.started)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f

	a.otel, err = intOtel.New(ctx, config.GetOTelConfig(), f)
	if err != nil {
		slog.Error("Failed to initialize OTel provider", "error", err)
		a.otel, _ = intOtel.New(ctx, config.OTelConfig{}, nil)
	}

	opts := []logging.Option{logging.WithContext(a.session.LogAttrs)}
	a.graylog, err = logging.NewGraylogWriter(config.GetGraylogConfig())
	if err != nil {
		slog.Error("Failed to initialize Graylog writer", "error", err)
	} else if a.graylog != nil {
		opts = append(opts, logging.WithGraylog(a.graylog))
	}

	a.logs = logging.NewSlogManager()
	a.logs.Setup(f, viper.GetString("logLevel"), a.otel.LoggerProvider(), opts...)
	a.logger = a.logs.Logger()
	a.logger.Info("Logging to file", "path", path, "otel", a.otel.Enabled(), "graylog", a.graylog != nil)
	return nil
}

// setupCore builds the tracker and the pipeline dependencies that do not
// depend on storage.
func (a *app) setupCore(cal core.MapCalibration, mapCfg config.MapConfig) error {
	a.tracker = tracker.New(cal, tracker.WithGracePeriod(config.GetTrackerConfig().GraceCycles))

	snapCfg := config.GetSnapshotConfig()
	a.persister = snapshot.NewPersister(snapCfg.Path)
	if snapCfg.Restore {
		prev, err := snapshot.Load(a.persister.Path())
		switch {
		case errors.Is(err, os.ErrNotExist):
			a.logger.Info("No snapshot to restore", "path", a.persister.Path())
		case err != nil:
			a.logger.Warn("Ignoring unreadable snapshot", "error", err)
		default:
			n := a.tracker.Restore(prev, a.started)
			a.logger.Info("Restored layout from snapshot", "markers", n, "path", a.persister.Path())
		}
	}

	anchor, err := pipeline.ParseAnchor(mapCfg.Anchor)
	if err != nil {
		return err
	}
	a.anchor = anchor

	a.pipeDeps = pipeline.Dependencies{
		Tracker:   a.tracker,
		Persister: a.persister,
		Logger:    a.logger,
		SessionID: a.session.ID(),
	}

	poseCfg := config.GetPoseConfig()
	if poseCfg.CalibrationFile != "" {
		camCal, err := pose.LoadCalibration(poseCfg.CalibrationFile)
		if err != nil {
			return fmt.Errorf("failed to load camera calibration: %w", err)
		}
		est, err := pose.NewEstimator(*camCal, poseCfg.MarkerLength)
		if err != nil {
			return fmt.Errorf("invalid camera calibration: %w", err)
		}
		a.pipeDeps.Estimator = est
		a.logger.Info("Pose estimator ready", "calibration", poseCfg.CalibrationFile, "markerLength", est.MarkerLength())
	}
	return nil
}

func (a *app) setupStorage(ctx context.Context) error {
	apiCfg := config.GetAPIConfig()
	backend, err := createStorageBackend(config.GetStorageConfig(), storageDeps{
		Logger:  a.logger,
		Zerolog: a.logs.Zerolog("storage"),
		Clock:   a.clock,
		Started: a.started,
		APIURL:  apiCfg.ServerURL,
		APIKey:  apiCfg.APIKey,
	})
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	cal := a.session.Calibration()
	if err := backend.StartSession(&core.SessionInfo{
		ID:         a.session.ID(),
		Started:    a.session.Started(),
		MapWidth:   cal.Width,
		MapHeight:  cal.Height,
		MapVersion: cal.Version,
	}); err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to start history session: %w", err)
	}
	a.backend = backend

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		m := influx.NewManager(influxCfg, a.session.ID(), a.logs.Zerolog("influx"),
			filepath.Join(viper.GetString("logsDir"), "influx_backup.lp.gz"))
		if err := m.Connect(ctx); err != nil {
			a.logger.Error("Failed to set up InfluxDB, telemetry disabled", "error", err)
		} else {
			a.influx = m
		}
	}
	return nil
}

func (a *app) setupServices() error {
	a.pipeDeps.Recorder = a.backend
	if a.influx != nil {
		a.pipeDeps.Telemetry = a.influx
	}
	a.processor = pipeline.New(a.session.Calibration(), a.pipeDeps, pipeline.WithAnchor(a.anchor))

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.logs.Zerolog("dispatcher")))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	a.dispatcher = d

	a.worker = worker.NewManager(worker.Dependencies{
		Processor:     a.processor,
		Session:       a.session,
		ParserService: parser.NewParser(a.logger),
		Logger:        a.logger,
	}, a.backend)
	a.worker.RegisterHandlers(d, config.GetIngestConfig().FrameQueue)

	apiCfg := config.GetAPIConfig()
	syncCfg := config.GetSyncConfig()
	a.client = api.New(apiCfg.ServerURL, apiCfg.APIKey,
		api.WithPushTimeout(syncCfg.Timeout),
		api.WithPaths(apiCfg.PushPath, apiCfg.MapConfigPath, apiCfg.HealthPath),
		api.WithParser(parser.NewParser(a.logger)),
	)

	a.syncer, err = syncer.New(a.tracker, a.client,
		syncer.WithClock(a.clock),
		syncer.WithInterval(syncCfg.Interval),
		syncer.WithMaxBackoff(syncCfg.MaxBackoff),
		syncer.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync scheduler: %w", err)
	}

	a.refresher = ingest.NewRefresher(a.client, d, ingest.RefresherConfig{
		Interval: config.GetMapConfig().RefreshInterval,
		Timeout:  syncCfg.Timeout,
		Clock:    a.clock,
		Logger:   a.logger,
	})

	monCfg := config.GetMonitorConfig()
	if monCfg.Enabled {
		deps := monitor.Dependencies{
			Tracker:  a.tracker,
			Cycles:   a.processor,
			Syncer:   a.syncer,
			Worker:   a.worker,
			Session:  a.session,
			Pending:  pendingRows(a.backend),
			Dir:      viper.GetString("logsDir"),
			Interval: monCfg.Interval,
			Clock:    a.clock,
			Logger:   a.logger,
		}
		if a.influx != nil {
			deps.Sink = a.influx
		}
		a.monitor = monitor.NewService(deps)
	}
	return nil
}

// start launches the background loops: map refresh, sync and monitoring.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.refresher.Run(ctx)
	}()

	a.syncer.Start(ctx)
	if a.monitor != nil {
		a.monitor.Start(ctx)
	}
	a.logger.Info("Relay started", "session", a.session.ID())
}

// ingest feeds frames from input until it is exhausted or ctx is done.
// input is "-" for stdin, udp://host:port, or a file path.
func (a *app) ingest(ctx context.Context, input string, rate float64) error {
	ingestCfg := config.GetIngestConfig()

	var err error
	switch {
	case strings.HasPrefix(input, udpScheme):
		l := ingest.NewUDPListener(ingest.UDPConfig{
			Address: strings.TrimPrefix(input, udpScheme),
			RcvBuf:  ingestCfg.UDPRcvBuf,
			Logger:  a.logger,
		}, a.dispatcher)
		err = l.Start(ctx)

	case input == "" || input == "-":
		r := ingest.NewLineReader(a.dispatcher, ingest.WithReaderLogger(a.logger))
		var n int
		n, err = r.ReadFrom(ctx, os.Stdin)
		a.logger.Info("Input closed", "frames", n)

	default:
		f, openErr := os.Open(input)
		if openErr != nil {
			return fmt.Errorf("failed to open input: %w", openErr)
		}
		defer f.Close()
		r := ingest.NewLineReader(a.dispatcher,
			ingest.WithRate(rate),
			ingest.WithReaderClock(a.clock),
			ingest.WithReaderLogger(a.logger),
		)
		var n int
		n, err = r.ReadFrom(ctx, f)
		a.logger.Info("Replay finished", "file", input, "frames", n)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown stops the loops, drains queued frames, pushes the final layout and
// closes every sink. It keeps going past errors and returns them joined.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error

	if a.cancel != nil {
		a.cancel()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if err := a.syncer.Stop(); err != nil && !errors.Is(err, syncer.ErrNotRunning) {
		errs = append(errs, err)
	}
	a.wg.Wait()

	if err := a.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining frames: %w", err))
	}

	if err := a.syncer.Tick(ctx); err != nil {
		a.logger.Warn("Final layout push failed", "error", err)
	}

	if err := a.backend.EndSession(); err != nil {
		errs = append(errs, fmt.Errorf("ending history session: %w", err))
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}
	if exp, ok := a.backend.(storage.Exporter); ok && exp.ExportedFilePath() != "" {
		a.logger.Info("History exported", "path", exp.ExportedFilePath())
	}

	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing influx: %w", err))
		}
	}

	stats := a.worker.Stats()
	a.logger.Info("Relay stopped",
		"frames", stats.Frames,
		"malformed", stats.MalformedFrames,
		"skipped", stats.SkippedCycles,
		"pushes", a.syncer.Stats().Pushes,
	)

	a.closeLogging(ctx)
	return errors.Join(errs...)
}

func (a *app) closeLogging(ctx context.Context) {
	if a.logs != nil {
		_ = a.logs.Flush(ctx)
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
