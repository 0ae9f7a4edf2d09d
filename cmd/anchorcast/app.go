package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anchorcast/anchorcast/internal/api"
	"github.com/anchorcast/anchorcast/internal/assets"
	"github.com/anchorcast/anchorcast/internal/config"
	"github.com/anchorcast/anchorcast/internal/dispatcher"
	"github.com/anchorcast/anchorcast/internal/headless"
	"github.com/anchorcast/anchorcast/internal/influx"
	"github.com/anchorcast/anchorcast/internal/journal"
	"github.com/anchorcast/anchorcast/internal/logging"
	"github.com/anchorcast/anchorcast/internal/manifest"
	"github.com/anchorcast/anchorcast/internal/media"
	"github.com/anchorcast/anchorcast/internal/monitor"
	intOtel "github.com/anchorcast/anchorcast/internal/otel"
	"github.com/anchorcast/anchorcast/internal/registry"
	"github.com/anchorcast/anchorcast/internal/scene"
	"github.com/anchorcast/anchorcast/internal/tracking"
	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// app owns every long-lived component of one replay session.
type app struct {
	session *core.Session
	start   time.Time

	slogManager *logging.SlogManager
	logger      *slog.Logger
	logFile     *os.File
	otel        *intOtel.Provider

	manifest *manifest.Manifest
	router   *dispatcher.Dispatcher
	journal  journal.Backend
	loader   *assets.Loader
	media    *media.Manager
	graph    *headless.Graph
	registry *registry.Registry
	tracker  *tracking.Dispatcher
	source   *headless.TraceSource

	influx  *influx.Manager
	monitor *monitor.Service
}

func newApp(tracePath string) (a *app, err error) {
	a = &app{
		start:   time.Now(),
		session: &core.Session{ID: uuid.NewString()},
	}
	defer func() {
		if err != nil {
			a.shutdown()
		}
	}()

	a.setupLogging()
	notifier := headless.NewNotifier(a.logger)

	a.manifest, err = manifest.Load(viper.GetString("manifest.path"))
	if err != nil {
		notifier.SetupFailed(err)
		return a, err
	}
	a.session.Manifest = a.manifest.Name
	a.session.Markers = a.manifest.Len()
	a.session.StartTime = a.start
	a.logger.Info("Manifest loaded", "name", a.manifest.Name, "markers", a.manifest.Len())

	a.router, err = dispatcher.New(logging.NewRouterLogger(a.zerolog("router")))
	if err != nil {
		return a, fmt.Errorf("creating event router: %w", err)
	}

	jcfg := config.GetJournalConfig()
	a.journal, err = createJournalBackend(jcfg, a.logger, a.zerolog("database"))
	if err != nil {
		return a, err
	}
	if err = a.journal.Init(); err != nil {
		return a, fmt.Errorf("initializing %s journal: %w", jcfg.Type, err)
	}
	if err = a.journal.StartSession(a.session); err != nil {
		return a, fmt.Errorf("starting journal session: %w", err)
	}
	journal.Register(a.router, a.journal, jcfg.BufferSize)
	a.logger.Info("Journal initialized", "type", jcfg.Type)

	acfg := config.GetAssetsConfig()
	store := headless.NewStore(acfg.Dir, a.manifest.VideoPlane())
	a.loader, err = assets.NewLoader(store, a.manifest, a.logger, assets.Options{
		Workers: acfg.Workers,
		Timeout: acfg.LoadTimeout,
	})
	if err != nil {
		return a, err
	}

	a.media, err = media.NewManager(headless.NewMediaBackend(viper.GetString("media.dir"), a.logger), a.logger)
	if err != nil {
		return a, err
	}

	a.graph = headless.NewGraph(a.logger)
	a.registry = registry.New()
	a.tracker, err = tracking.New(tracking.Dependencies{
		Router:    a.router,
		Catalog:   a.manifest,
		Loader:    a.loader,
		Media:     a.media,
		Registry:  a.registry,
		Binder:    scene.NewBinder(a.graph, a.logger),
		Notifier:  notifier,
		Surfaces:  headless.NewSurface,
		Logger:    a.logger,
		SessionID: a.session.ID,
	})
	if err != nil {
		return a, err
	}

	a.source, err = headless.OpenTrace(tracePath, a.logger)
	if err != nil {
		return a, err
	}

	a.setupMonitor()
	return a, nil
}

// setupLogging follows the startup order of logging: stdout first, then the
// session log file with optional OTel and Graylog sinks.
func (a *app) setupLogging() {
	a.slogManager = logging.NewSlogManager()
	a.slogManager.Setup(nil, viper.GetString("logLevel"), nil)
	a.logger = a.slogManager.Logger()

	logsDir := viper.GetString("logsDir")
	f, err := logging.OpenLogFile(logsDir, AppName, a.start)
	if err != nil {
		a.logger.Error("Failed to create/open log file!", "error", err, "dir", logsDir)
	} else {
		a.logFile = f
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled && a.logFile != nil {
		a.otel, err = intOtel.New(intOtel.Config{
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: CurrentVersion,
			SessionID:      a.session.ID,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      a.logFile,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
			Headers:        otelCfg.Headers,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	if viper.GetBool("graylog.enabled") {
		if err := a.slogManager.EnableGELF(viper.GetString("graylog.address"), viper.GetString("graylog.level")); err != nil {
			a.logger.Warn("Graylog disabled", "error", err)
		}
	}

	a.slogManager.SetSession(a.session.ID)

	var otelLogProvider *sdklog.LoggerProvider
	if a.otel != nil {
		otelLogProvider = a.otel.LoggerProvider()
	}
	if a.logFile != nil {
		a.slogManager.Setup(a.logFile, viper.GetString("logLevel"), otelLogProvider)
	} else {
		a.slogManager.Setup(nil, viper.GetString("logLevel"), otelLogProvider)
	}
	a.logger = a.slogManager.Logger()
	a.logger.Info("Starting up...", "version", CurrentVersion, "build", BuildDate)
}

// zerolog builds the leveled zerolog logger used by the router and database helpers.
func (a *app) zerolog(component string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString("logLevel")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if a.logFile != nil {
		out = a.logFile
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("component", component).Logger()
}

func (a *app) setupMonitor() {
	deps := monitor.Dependencies{
		Logger:    a.logger,
		StatusDir: viper.GetString("logsDir"),
		SessionID: a.session.ID,
	}
	if w, ok := a.journal.(interface{ GetLastDBWriteDuration() time.Duration }); ok {
		deps.LastJournalWrite = w.GetLastDBWriteDuration
	}

	if icfg := config.GetInfluxConfig(); icfg.Enabled {
		im := influx.NewManager(influx.Config{
			URL:           icfg.URL(),
			Token:         icfg.Token,
			Org:           icfg.Org,
			Bucket:        icfg.Bucket,
			Retention:     icfg.Retention,
			BatchSize:     uint(icfg.BatchSize),
			FlushInterval: icfg.FlushInterval,
			BackupPath: filepath.Join(viper.GetString("logsDir"),
				fmt.Sprintf("%s_influx_%s.lp.gz", AppName, a.start.Format("20060102_150405"))),
		}, a.zerolog("influx"))
		if err := im.Connect(context.Background()); err != nil {
			a.logger.Warn("InfluxDB disabled", "error", err)
		} else {
			a.influx = im
			deps.Influx = im
		}
	}

	a.monitor = monitor.NewService(deps)
	if err := a.monitor.Start(); err != nil {
		a.logger.Warn("Status monitor not started", "error", err)
	}
}

// run replays the trace until it is exhausted or ctx is cancelled, then
// ends the journal session and returns a printable summary.
func (a *app) run(ctx context.Context, upload bool) (string, error) {
	defer a.shutdown()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.source.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	interval := viper.GetDuration("tick.interval")
	if interval <= 0 {
		interval = time.Millisecond
	}
	a.logger.Info("Replaying trace", "interval", interval)
	err := a.tracker.Run(runCtx, a.source, interval, a.monitor.Observe)
	if err != nil && !errors.Is(err, context.Canceled) {
		return "", err
	}

	// let loads that are already running settle into their nodes
	a.drain(runCtx)

	registered := a.registry.Len()
	a.tracker.Teardown()
	a.media.Close()
	a.loader.Close()
	a.router.Close()

	if err := a.journal.EndSession(); err != nil {
		a.logger.Error("Failed to end journal session", "error", err)
	}
	if a.otel != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.otel.Flush(flushCtx); err != nil {
			a.logger.Warn("Failed to flush OTel logs", "error", err)
		}
		cancelFlush()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %d frames, %d skipped lines, %d markers attached at end\n",
		a.session.ID, a.source.Frames(), a.source.Skipped(), registered)

	if exp, ok := a.journal.(journal.Exporter); ok && exp.ExportedFilePath() != "" {
		path := exp.ExportedFilePath()
		fmt.Fprintf(&b, "journal written to %s\n", path)
		if upload {
			res, err := a.upload(context.WithoutCancel(ctx), path)
			if err != nil {
				a.logger.Error("Failed to upload journal", "error", err, "path", path)
				fmt.Fprintf(&b, "upload failed: %v\n", err)
			} else {
				a.logger.Info("Journal uploaded", "id", res.ID, "path", path)
				if res.ID != "" {
					fmt.Fprintf(&b, "journal uploaded as %s\n", res.ID)
				} else {
					fmt.Fprintln(&b, "journal uploaded")
				}
			}
		}
	}
	return b.String(), nil
}

func (a *app) drain(ctx context.Context) {
	deadline := time.Now().Add(2 * time.Second)
	for a.loader.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.tracker.ProcessFrame(context.WithoutCancel(ctx), &core.Frame{CameraTracking: true, Timestamp: time.Now()})
}

func (a *app) upload(ctx context.Context, path string) (api.UploadResult, error) {
	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	if err := client.Healthcheck(ctx); err != nil {
		return api.UploadResult{}, err
	}
	meta := api.UploadMetadata{
		SessionID: a.session.ID,
		Manifest:  a.session.Manifest,
		Duration:  time.Since(a.start),
	}
	if c, ok := a.journal.(interface{ Counts() map[core.LifecycleKind]int }); ok {
		meta.Counts = c.Counts()
	}
	return client.Upload(ctx, path, meta)
}

// shutdown releases everything in reverse order. Safe on a partially built app.
func (a *app) shutdown() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.logger.Warn("Closing InfluxDB", "error", err)
		}
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.media != nil {
		a.media.Close()
	}
	if a.loader != nil {
		a.loader.Close()
	}
	if a.router != nil {
		a.router.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("Closing journal", "error", err)
		}
		a.journal = nil
	}
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to shut down OTel", "error", err)
		}
		cancel()
		a.otel = nil
	}
	if a.slogManager != nil {
		_ = a.slogManager.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}
