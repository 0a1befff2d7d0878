// Package supervisor implements the thermal state machine driving the worker
// process lifecycle. A single Supervisor owns the worker handle; only the
// sampling loop mutates its state, while the HTTP surface reads snapshots
// through Status.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karlsen/thermwatch/internal/alert"
	"github.com/karlsen/thermwatch/internal/logfields"
	"github.com/karlsen/thermwatch/internal/metrics"
	"github.com/karlsen/thermwatch/internal/state"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateStopped   State = "stopped"
	StateRunning   State = "running"
	StateThrottled State = "throttled"
)

// ThrottlePriority is the nice value applied to the worker's process group
// while throttled; PriorityNormal restores it.
const (
	ThrottlePriority = 10
	PriorityNormal   = 0
)

// Process is the supervisor's handle to the running worker process group.
type Process interface {
	Alive() bool
	PID() int
	SetPriority(nice int) error
	Stop(ctx context.Context) error
	ForceStop() error
}

// Launcher starts worker processes.
type Launcher interface {
	Start(ctx context.Context) (Process, error)
}

// Notifier dispatches alert events without blocking the caller.
type Notifier interface {
	Send(ev alert.Event)
}

// StateStore persists the observability snapshot after each transition.
type StateStore interface {
	Persist(snap state.Snapshot) error
}

// Historian records transitions for after-the-fact inspection. Optional.
type Historian interface {
	RecordTransition(ctx context.Context, from, to, reason string, at time.Time) error
}

// Config holds the immutable thresholds and timing knobs.
type Config struct {
	AlertThreshold     float64
	ResumeThreshold    float64
	KillThreshold      float64
	ThrottleDuration   time.Duration
	MaxRestartAttempts int
	// SensorFailureRun is the number of consecutive probe failures that
	// triggers a sensor alert.
	SensorFailureRun int
}

// Deps wires the supervisor's collaborators. Notifier and Launcher are
// required; Store, History, Recorder and Now have working defaults.
type Deps struct {
	Launcher Launcher
	Notifier Notifier
	Store    StateStore
	History  Historian
	Recorder metrics.Recorder
	Now      func() time.Time
}

// Supervisor is the thermal state machine. All transition methods are called
// from the sampling loop only; the mutex exists so Status can be served
// concurrently from the HTTP listener.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	notifier Notifier
	store    StateStore
	history  Historian
	recorder metrics.Recorder
	now      func() time.Time

	mu                sync.Mutex
	state             State
	worker            Process
	throttleStart     time.Time
	restartAttempts   int
	restartsExhausted bool
	sensorFailures    int
	lastTemperature   float64
	lastSampleAt      time.Time
	lastTickAt        time.Time
}

// New creates a supervisor in the Stopped state. The worker is always assumed
// not running on (re)start.
func New(cfg Config, deps Deps) *Supervisor {
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.SensorFailureRun <= 0 {
		cfg.SensorFailureRun = 5
	}
	s := &Supervisor{
		cfg:      cfg,
		launcher: deps.Launcher,
		notifier: deps.Notifier,
		store:    deps.Store,
		history:  deps.History,
		recorder: deps.Recorder,
		now:      deps.Now,
		state:    StateStopped,
	}
	s.recorder.SetSupervisorState(string(StateStopped))
	return s
}

// Tick runs one state-machine step for the sampled temperature. The kill
// threshold is evaluated first and overrides all other logic, from any state.
func (s *Supervisor) Tick(ctx context.Context, temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sensorFailures = 0
	s.lastTemperature = temp
	s.lastSampleAt = s.now()
	s.lastTickAt = s.lastSampleAt
	s.recorder.ObserveTemperature(temp)
	s.reconcileLocked()

	switch {
	case temp >= s.cfg.KillThreshold:
		if s.state == StateStopped {
			return
		}
		s.forceStopLocked("kill threshold reached")
		s.notifier.Send(alert.NewEvent(
			"Worker Killed - Overheating",
			fmt.Sprintf("Temperature reached %.1f°C (kill threshold %.1f°C). Worker was force-stopped.", temp, s.cfg.KillThreshold),
			alert.SeverityCritical))

	case temp >= s.cfg.AlertThreshold:
		s.handleHotLocked(temp)

	case temp < s.cfg.ResumeThreshold:
		s.handleCoolLocked(ctx, temp)

	default:
		// Hysteresis band: no transition in any state. This dead zone is
		// what prevents throttle/restore oscillation near one threshold.
		slog.Debug("Temperature in hysteresis band",
			logfields.Temperature(temp),
			logfields.State(string(s.state)))
	}
}

func (s *Supervisor) handleHotLocked(temp float64) {
	switch s.state {
	case StateRunning:
		if err := s.worker.SetPriority(ThrottlePriority); err != nil {
			// Stay Running and retry next tick rather than claim a
			// throttle that did not happen.
			slog.Error("Failed to throttle worker", logfields.Error(err))
			return
		}
		s.throttleStart = s.now()
		s.transitionLocked(StateThrottled, "alert threshold reached")
		s.notifier.Send(alert.NewEvent(
			"CPU Overheating",
			fmt.Sprintf("Temperature reached %.1f°C. Throttling worker to cool down.", temp),
			alert.SeverityCritical))

	case StateThrottled:
		elapsed := s.now().Sub(s.throttleStart)
		if elapsed < s.cfg.ThrottleDuration {
			return
		}
		s.forceStopLocked("throttle duration exceeded")
		s.notifier.Send(alert.NewEvent(
			"Worker Killed - Throttle Timeout",
			fmt.Sprintf("Worker was killed after %ds of throttling at %.1f°C.", int(elapsed.Seconds()), temp),
			alert.SeverityCritical))

	case StateStopped:
		// Nothing to throttle.
	}
}

func (s *Supervisor) handleCoolLocked(ctx context.Context, temp float64) {
	switch s.state {
	case StateStopped:
		started := s.startLocked(ctx, "cooled below resume threshold")
		if started {
			s.notifier.Send(alert.NewEvent(
				"CPU Cooled Down",
				fmt.Sprintf("Temperature is now %.1f°C. Worker restarted.", temp),
				alert.SeverityOK))
		}

	case StateThrottled:
		if err := s.worker.SetPriority(PriorityNormal); err != nil {
			slog.Error("Failed to unthrottle worker", logfields.Error(err))
			return
		}
		s.throttleStart = time.Time{}
		s.transitionLocked(StateRunning, "cooled below resume threshold")
		s.notifier.Send(alert.NewEvent(
			"CPU Cooled Down",
			fmt.Sprintf("Temperature is now %.1f°C. Throttle removed.", temp),
			alert.SeverityOK))

	case StateRunning:
		// Already running at normal priority.
	}
}

// reconcileLocked notices a worker that exited on its own and folds it back
// into the Stopped state so the cool branch can restart it.
func (s *Supervisor) reconcileLocked() {
	if s.state == StateStopped || s.worker == nil || s.worker.Alive() {
		return
	}
	slog.Warn("Worker exited unexpectedly", logfields.State(string(s.state)))
	s.worker = nil
	s.throttleStart = time.Time{}
	s.transitionLocked(StateStopped, "worker exited unexpectedly")
}

// StartWorker attempts an initial worker start, used at daemon startup.
// It is a no-op unless the supervisor is Stopped.
func (s *Supervisor) StartWorker(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return false
	}
	return s.startLocked(ctx, "startup")
}

// startLocked launches the worker, applying the bounded restart policy.
// Returns true when a new worker is running.
func (s *Supervisor) startLocked(ctx context.Context, reason string) bool {
	if s.restartsExhausted {
		return false
	}

	w, err := s.launcher.Start(ctx)
	if err != nil {
		s.restartAttempts++
		s.recorder.IncWorkerRestart(false)
		slog.Error("Failed to start worker",
			logfields.Attempt(s.restartAttempts),
			logfields.Error(err))
		if s.restartAttempts >= s.cfg.MaxRestartAttempts {
			// Exactly one fatal alert per exhaustion; sampling continues
			// but no auto-start happens until ResetRestarts.
			s.restartsExhausted = true
			s.notifier.Send(alert.NewEvent(
				"Worker Start Failed",
				fmt.Sprintf("Failed to start worker after %d attempts. Automatic restarts are halted until reset.", s.cfg.MaxRestartAttempts),
				alert.SeverityCritical))
		}
		return false
	}

	s.worker = w
	s.restartAttempts = 0
	s.recorder.IncWorkerRestart(true)
	s.transitionLocked(StateRunning, reason)
	return true
}

// forceStopLocked kills the worker's process group immediately and moves to
// Stopped. The handle is released on every exit path.
func (s *Supervisor) forceStopLocked(reason string) {
	if s.worker != nil {
		if err := s.worker.ForceStop(); err != nil {
			slog.Error("Force stop failed", logfields.Error(err))
		}
		s.worker = nil
	}
	s.throttleStart = time.Time{}
	s.transitionLocked(StateStopped, reason)
}

// transitionLocked applies a state change, persisting the snapshot and
// recording the transition as side effects. Best-effort: persistence
// failures are logged, never propagated.
func (s *Supervisor) transitionLocked(to State, reason string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	slog.Info("Supervisor state transition",
		logfields.FromState(string(from)),
		logfields.ToState(string(to)),
		slog.String("reason", reason))

	s.recorder.IncTransition(string(from), string(to))
	s.recorder.SetSupervisorState(string(to))

	if s.store != nil {
		if err := s.store.Persist(s.snapshotLocked()); err != nil {
			slog.Error("Failed to persist state snapshot", logfields.Error(err))
		}
	}
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.history.RecordTransition(ctx, string(from), string(to), reason, s.now()); err != nil {
			slog.Error("Failed to record transition history", logfields.Error(err))
		}
	}
}

func (s *Supervisor) snapshotLocked() state.Snapshot {
	return state.Snapshot{
		Running:   s.state != StateStopped,
		Throttled: s.state == StateThrottled,
	}
}

// HandleSensorFailure counts a failed probe read. The tick's decision is
// skipped entirely; after SensorFailureRun consecutive failures one warning
// alert is emitted and the run resets.
func (s *Supervisor) HandleSensorFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTickAt = s.now()
	s.sensorFailures++
	s.recorder.IncSensorFailure()
	slog.Warn("Could not read temperature",
		slog.Int("consecutive_errors", s.sensorFailures))

	if s.sensorFailures >= s.cfg.SensorFailureRun {
		s.notifier.Send(alert.NewEvent(
			"Temperature Sensor Error",
			fmt.Sprintf("Could not read the temperature for %d consecutive checks. Please investigate.", s.sensorFailures),
			alert.SeverityWarning))
		s.sensorFailures = 0
	}
}

// ResetRestarts clears the restart counter and re-enables auto-start after
// an exhaustion, typically triggered by an operator.
func (s *Supervisor) ResetRestarts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartAttempts = 0
	s.restartsExhausted = false
	slog.Info("Restart counter reset")
}

// Shutdown performs the final orderly stop: graceful termination escalating
// to kill after the worker's stop timeout.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil {
		if err := s.worker.Stop(ctx); err != nil {
			slog.Error("Failed to stop worker during shutdown", logfields.Error(err))
		}
		s.worker = nil
	}
	s.throttleStart = time.Time{}
	s.transitionLocked(StateStopped, "supervisor shutdown")
}

// Status is a read-only snapshot for the observability surface.
type Status struct {
	State             State      `json:"state"`
	WorkerPID         int        `json:"worker_pid,omitempty"`
	ThrottledSince    *time.Time `json:"throttled_since,omitempty"`
	RestartAttempts   int        `json:"restart_attempts"`
	RestartsExhausted bool       `json:"restarts_exhausted"`
	LastTemperature   float64    `json:"last_temperature_c"`
	LastSampleAt      time.Time  `json:"last_sample_at"`
	LastTickAt        time.Time  `json:"last_tick_at"`
}

// Status returns the current supervisor snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:             s.state,
		RestartAttempts:   s.restartAttempts,
		RestartsExhausted: s.restartsExhausted,
		LastTemperature:   s.lastTemperature,
		LastSampleAt:      s.lastSampleAt,
		LastTickAt:        s.lastTickAt,
	}
	if s.worker != nil {
		st.WorkerPID = s.worker.PID()
	}
	if !s.throttleStart.IsZero() {
		t := s.throttleStart
		st.ThrottledSince = &t
	}
	return st
}
