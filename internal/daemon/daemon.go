// Package daemon wires the temperature probe, supervisor, alerting and
// observability surface into the long-running monitor process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/karlsen/thermwatch/internal/alert"
	"github.com/karlsen/thermwatch/internal/config"
	"github.com/karlsen/thermwatch/internal/history"
	"github.com/karlsen/thermwatch/internal/logfields"
	"github.com/karlsen/thermwatch/internal/metrics"
	"github.com/karlsen/thermwatch/internal/proc"
	"github.com/karlsen/thermwatch/internal/retry"
	"github.com/karlsen/thermwatch/internal/sensor"
	"github.com/karlsen/thermwatch/internal/state"
	"github.com/karlsen/thermwatch/internal/supervisor"
)

// Daemon owns the sampling scheduler and every collaborator around the
// supervisor. One Daemon per process.
type Daemon struct {
	cfg      *config.Config
	sup      *supervisor.Supervisor
	probe    *sensor.Probe
	notifier *alert.Notifier
	store    *state.Store
	history  *history.Store
	recorder metrics.Recorder
	registry *prom.Registry

	scheduler  gocron.Scheduler
	httpServer *HTTPServer
	watcher    *config.Watcher
	logLevel   *slog.LevelVar

	mu     sync.Mutex
	natsCh *alert.NATSChannel

	startTime time.Time
}

// Options carries the optional knobs New accepts beyond the configuration.
type Options struct {
	// ConfigPath enables live reload of alert channels and log level when
	// non-empty.
	ConfigPath string
	// LogLevel, when set, is adjusted on config reload.
	LogLevel *slog.LevelVar
}

// New builds a fully wired daemon from the validated configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	channels, natsCh, err := buildChannels(cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.NewPolicy(
		retry.BackoffMode(cfg.Alerts.Backoff),
		cfg.Alerts.RetryDelay.Std(),
		cfg.Alerts.RetryDelay.Std(),
		cfg.Alerts.MaxAttempts-1,
	)
	notifier := alert.NewNotifier(channels, policy, recorder)

	store := state.NewStore(cfg.State.Path)

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
	}

	launcher := procLauncher{launcher: proc.Launcher{
		Interpreter: cfg.Worker.Interpreter,
		Script:      cfg.Worker.Script,
		Dir:         cfg.Worker.Dir,
		StopTimeout: cfg.Worker.StopTimeout.Std(),
	}}

	sup := supervisor.New(supervisor.Config{
		AlertThreshold:     cfg.Thresholds.Alert,
		ResumeThreshold:    cfg.Thresholds.Resume,
		KillThreshold:      cfg.Thresholds.Kill,
		ThrottleDuration:   cfg.Thresholds.ThrottleDuration.Std(),
		MaxRestartAttempts: cfg.Thresholds.MaxRestartAttempts,
		SensorFailureRun:   cfg.Sensor.FailureAlertRun,
	}, supervisor.Deps{
		Launcher: launcher,
		Notifier: notifier,
		Store:    store,
		History:  historian(hist),
		Recorder: recorder,
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		sup:       sup,
		probe:     sensor.NewProbe(cfg.Sensor.Command, cfg.Sensor.FallbackPath, cfg.Sensor.Timeout.Std()),
		notifier:  notifier,
		store:     store,
		history:   hist,
		recorder:  recorder,
		registry:  registry,
		scheduler: scheduler,
		logLevel:  opts.LogLevel,
		natsCh:    natsCh,
		startTime: time.Now(),
	}

	if cfg.HTTP.Enabled {
		d.httpServer = NewHTTPServer(cfg.HTTP.Listen, d)
	}

	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, d.applyReload)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = w
	}

	return d, nil
}

// historian keeps the supervisor's optional Historian nil when history is
// disabled (a typed nil pointer would defeat its nil check).
func historian(h *history.Store) supervisor.Historian {
	if h == nil {
		return nil
	}
	return h
}

// buildChannels creates the configured alert channels. The NATS channel is
// returned separately so its connection can be closed on shutdown.
func buildChannels(cfg *config.Config) ([]alert.Channel, *alert.NATSChannel, error) {
	var channels []alert.Channel

	if cfg.Alerts.Webhook.Enabled {
		for _, id := range cfg.Alerts.Webhook.ChannelIDs {
			channels = append(channels, alert.NewWebhookChannel(
				cfg.Alerts.Webhook.BaseURL, id, cfg.Alerts.Webhook.Token))
		}
	}

	var natsCh *alert.NATSChannel
	if cfg.Alerts.NATS.Enabled {
		ch, err := alert.NewNATSChannel(cfg.Alerts.NATS.URL, cfg.Alerts.NATS.Subject)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect alert NATS channel: %w", err)
		}
		natsCh = ch
		channels = append(channels, ch)
	}

	return channels, natsCh, nil
}

// Start begins sampling and brings up the observability surface. It returns
// once everything is running; the scheduler drives the loop from there.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Starting temperature monitor",
		slog.Float64("alert_threshold", d.cfg.Thresholds.Alert),
		slog.Float64("resume_threshold", d.cfg.Thresholds.Resume),
		slog.Float64("kill_threshold", d.cfg.Thresholds.Kill),
		slog.Duration("sample_interval", d.cfg.Thresholds.SampleInterval.Std()))

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Start(ctx); err != nil {
			return err
		}
	}

	_, err := d.scheduler.NewJob(
		gocron.DurationJob(d.cfg.Thresholds.SampleInterval.Std()),
		gocron.NewTask(d.sampleOnce),
		gocron.WithName("temperature-sample"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sampling job: %w", err)
	}
	d.scheduler.Start()

	d.notifier.Send(alert.NewEvent(
		"Temperature Monitor Online",
		"Temperature monitoring is now running.",
		alert.SeverityInfo))

	d.sup.StartWorker(ctx)
	return nil
}

// sampleOnce is the scheduled loop body: read one temperature and hand it to
// the state machine. A failed read is counted, never acted on.
func (d *Daemon) sampleOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Sensor.Timeout.Std()+5*time.Second)
	defer cancel()

	temp, err := d.probe.Read(ctx)
	if err != nil {
		slog.Warn("Temperature read failed", logfields.Error(err))
		d.sup.HandleSensorFailure()
		return
	}

	slog.Debug("Temperature sampled", logfields.Temperature(temp))
	d.sup.Tick(ctx, temp)

	if d.history != nil {
		if err := d.history.RecordSample(ctx, temp, time.Now()); err != nil {
			slog.Error("Failed to record temperature sample", logfields.Error(err))
		}
	}
}

// Stop shuts the daemon down in dependency order: stop sampling first so no
// tick races the worker teardown, then drain alerts before closing channels.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping temperature monitor")

	if err := d.scheduler.Shutdown(); err != nil {
		slog.Error("Failed to shut down scheduler", logfields.Error(err))
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			slog.Error("Failed to stop HTTP server", logfields.Error(err))
		}
	}

	d.sup.Shutdown(ctx)

	d.notifier.Send(alert.NewEvent(
		"Temperature Monitor Stopped",
		"Temperature monitoring has shut down.",
		alert.SeverityWarning))
	if err := d.notifier.Close(ctx); err != nil {
		slog.Warn("Alert deliveries still pending at shutdown", logfields.Error(err))
	}

	d.mu.Lock()
	if d.natsCh != nil {
		d.natsCh.Close()
		d.natsCh = nil
	}
	d.mu.Unlock()

	if d.history != nil {
		if err := d.history.Close(); err != nil {
			slog.Error("Failed to close history store", logfields.Error(err))
		}
	}

	slog.Info("Temperature monitor stopped")
	return nil
}

// applyReload applies the runtime-adjustable parts of a freshly loaded
// configuration: log level and alert channels. Thresholds are immutable.
func (d *Daemon) applyReload(cfg *config.Config) {
	if d.logLevel != nil {
		d.logLevel.Set(cfg.SlogLevel())
	}

	channels, natsCh, err := buildChannels(cfg)
	if err != nil {
		slog.Error("Config reload kept previous alert channels", logfields.Error(err))
		return
	}
	d.notifier.SetChannels(channels)

	d.mu.Lock()
	old := d.natsCh
	d.natsCh = natsCh
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}

	d.cfg.Alerts = cfg.Alerts
	d.cfg.LogLevel = cfg.LogLevel
	slog.Info("Applied reloaded alert configuration",
		slog.Int("channels", len(channels)))
}

// Status returns the supervisor snapshot for the observability handlers.
func (d *Daemon) Status() supervisor.Status { return d.sup.Status() }

// ResetRestarts re-enables automatic worker starts after an exhaustion.
func (d *Daemon) ResetRestarts() { d.sup.ResetRestarts() }

// procLauncher adapts proc.Launcher's concrete worker to the supervisor's
// Process interface.
type procLauncher struct {
	launcher proc.Launcher
}

func (l procLauncher) Start(ctx context.Context) (supervisor.Process, error) {
	w, err := l.launcher.Start(ctx)
	if err != nil {
		return nil, err
	}
	return w, nil
}
