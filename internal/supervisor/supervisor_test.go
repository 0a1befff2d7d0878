package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karlsen/thermwatch/internal/alert"
	"github.com/karlsen/thermwatch/internal/state"
)

type fakeProcess struct {
	alive      bool
	pid        int
	priorities []int
	forceStops int
	stops      int
	prioErr    error
}

func (p *fakeProcess) Alive() bool { return p.alive }
func (p *fakeProcess) PID() int    { return p.pid }

func (p *fakeProcess) SetPriority(nice int) error {
	if p.prioErr != nil {
		return p.prioErr
	}
	p.priorities = append(p.priorities, nice)
	return nil
}

func (p *fakeProcess) Stop(ctx context.Context) error {
	p.stops++
	p.alive = false
	return nil
}

func (p *fakeProcess) ForceStop() error {
	p.forceStops++
	p.alive = false
	return nil
}

type fakeLauncher struct {
	failures  int
	started   []*fakeProcess
	startErrs int
}

func (l *fakeLauncher) Start(ctx context.Context) (Process, error) {
	if l.startErrs < l.failures {
		l.startErrs++
		return nil, errors.New("launch failed")
	}
	p := &fakeProcess{alive: true, pid: 1000 + len(l.started)}
	l.started = append(l.started, p)
	return p, nil
}

func (l *fakeLauncher) liveCount() int {
	n := 0
	for _, p := range l.started {
		if p.alive {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *fakeNotifier) Send(ev alert.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ts []string
	for _, ev := range n.events {
		ts = append(ts, ev.Title)
	}
	return ts
}

func (n *fakeNotifier) countTitle(title string) int {
	c := 0
	for _, t := range n.titles() {
		if t == title {
			c++
		}
	}
	return c
}

type fakeStore struct {
	snapshots []state.Snapshot
	err       error
}

func (s *fakeStore) Persist(snap state.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() Config {
	return Config{
		AlertThreshold:     85,
		ResumeThreshold:    60,
		KillThreshold:      90,
		ThrottleDuration:   300 * time.Second,
		MaxRestartAttempts: 3,
		SensorFailureRun:   5,
	}
}

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	notifier *fakeNotifier
	store    *fakeStore
	clock    *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		launcher: &fakeLauncher{},
		notifier: &fakeNotifier{},
		store:    &fakeStore{},
		clock:    &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	h.sup = New(cfg, Deps{
		Launcher: h.launcher,
		Notifier: h.notifier,
		Store:    h.store,
		Now:      h.clock.Now,
	})
	return h
}

func (h *harness) tick(temp float64) {
	h.sup.Tick(context.Background(), temp)
}

func TestScenarioA_ThrottleThenKill(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	samples := []float64{70, 86, 87, 91}
	want := []State{StateRunning, StateThrottled, StateThrottled, StateStopped}

	for i, temp := range samples {
		h.tick(temp)
		h.clock.Advance(10 * time.Second)
		assert.Equal(t, want[i], h.sup.Status().State, "after sample %.0f", temp)
	}

	// Kill alert emitted exactly at the 91 sample.
	assert.Equal(t, 1, h.notifier.countTitle("Worker Killed - Overheating"))
	assert.Equal(t, 1, h.notifier.countTitle("CPU Overheating"))
	assert.Equal(t, 1, h.launcher.started[0].forceStops)
}

func TestScenarioB_DurationEscalation(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	// Constant 86 until elapsed throttle time reaches 300s.
	for i := 0; i < 40 && h.sup.Status().State != StateStopped; i++ {
		h.tick(86)
		h.clock.Advance(10 * time.Second)
	}

	assert.Equal(t, StateStopped, h.sup.Status().State)
	// Escalation fired via elapsed time, not the kill threshold.
	assert.Equal(t, 1, h.notifier.countTitle("Worker Killed - Throttle Timeout"))
	assert.Equal(t, 0, h.notifier.countTitle("Worker Killed - Overheating"))
}

func TestScenarioB_EscalationFiresExactlyOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	// Throttle, exceed the duration, then keep sampling hot while Stopped.
	h.tick(86)
	h.clock.Advance(301 * time.Second)
	for i := 0; i < 5; i++ {
		h.tick(86)
		h.clock.Advance(10 * time.Second)
	}

	assert.Equal(t, StateStopped, h.sup.Status().State)
	assert.Equal(t, 1, h.notifier.countTitle("Worker Killed - Throttle Timeout"))
}

func TestScenarioC_CooldownStartResetsCounter(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tick(50)

	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 0, st.RestartAttempts)
	assert.Len(t, h.launcher.started, 1)
	assert.Equal(t, 1, h.notifier.countTitle("CPU Cooled Down"))
}

func TestKillThresholdDominatesFromAnyState(t *testing.T) {
	for _, start := range []State{StateStopped, StateRunning, StateThrottled} {
		t.Run(string(start), func(t *testing.T) {
			h := newHarness(t, testConfig())
			switch start {
			case StateRunning:
				require.True(t, h.sup.StartWorker(context.Background()))
			case StateThrottled:
				require.True(t, h.sup.StartWorker(context.Background()))
				h.tick(86)
				require.Equal(t, StateThrottled, h.sup.Status().State)
			}

			h.tick(95)
			assert.Equal(t, StateStopped, h.sup.Status().State)
			assert.Equal(t, 0, h.launcher.liveCount())
		})
	}
}

func TestKillFromStoppedEmitsNoDuplicateAlert(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	h.tick(95)
	h.tick(95)
	h.tick(95)

	assert.Equal(t, 1, h.notifier.countTitle("Worker Killed - Overheating"))
}

func TestHysteresisKeepsThrottledUntilResume(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	h.tick(86)
	require.Equal(t, StateThrottled, h.sup.Status().State)

	// Below alert but above resume: stays throttled.
	for _, temp := range []float64{84, 70, 61, 60} {
		h.tick(temp)
		assert.Equal(t, StateThrottled, h.sup.Status().State, "at %.0f", temp)
	}

	// Strictly below resume: restores.
	h.tick(59)
	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Nil(t, st.ThrottledSince)

	p := h.launcher.started[0]
	assert.Equal(t, []int{ThrottlePriority, PriorityNormal}, p.priorities)
}

func TestHysteresisBandCausesNoTransitions(t *testing.T) {
	h := newHarness(t, testConfig())

	// Stopped + band temperature: no start.
	h.tick(70)
	assert.Equal(t, StateStopped, h.sup.Status().State)
	assert.Empty(t, h.launcher.started)

	// Running + band temperature: no throttle.
	require.True(t, h.sup.StartWorker(context.Background()))
	h.tick(84.9)
	assert.Equal(t, StateRunning, h.sup.Status().State)
}

func TestThrottleAlertOncePerEntry(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	h.tick(86)
	h.clock.Advance(10 * time.Second)
	h.tick(87)
	h.clock.Advance(10 * time.Second)
	h.tick(88)

	assert.Equal(t, 1, h.notifier.countTitle("CPU Overheating"))
}

func TestAtMostOneWorkerAcrossSampleSequences(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	samples := []float64{50, 86, 59, 86, 91, 50, 95, 40, 70, 86}
	for _, temp := range samples {
		h.tick(temp)
		h.clock.Advance(10 * time.Second)
		assert.LessOrEqual(t, h.launcher.liveCount(), 1, "after sample %.0f", temp)
	}
}

func TestBoundedRestartEmitsSingleFatalAlert(t *testing.T) {
	h := newHarness(t, testConfig())
	h.launcher.failures = 1000

	// Failed attempts: fatal alert exactly at attempt 3, then no more starts.
	for i := 0; i < 10; i++ {
		h.tick(50)
	}

	st := h.sup.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.True(t, st.RestartsExhausted)
	assert.Equal(t, 1, h.notifier.countTitle("Worker Start Failed"))
	assert.Equal(t, 3, h.launcher.startErrs, "no attempts after exhaustion")
}

func TestResetRestartsReenablesAutoStart(t *testing.T) {
	h := newHarness(t, testConfig())
	h.launcher.failures = 3

	for i := 0; i < 5; i++ {
		h.tick(50)
	}
	require.True(t, h.sup.Status().RestartsExhausted)

	h.sup.ResetRestarts()
	h.tick(50)

	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 0, st.RestartAttempts)
}

func TestSuccessfulStartResetsCounter(t *testing.T) {
	h := newHarness(t, testConfig())
	h.launcher.failures = 2

	h.tick(50)
	h.tick(50)
	assert.Equal(t, 2, h.sup.Status().RestartAttempts)

	h.tick(50)
	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 0, st.RestartAttempts)
}

func TestStatePersistedOnEveryTransition(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))
	h.tick(86)
	h.tick(59)
	h.tick(95)

	require.Len(t, h.store.snapshots, 4)
	assert.Equal(t, state.Snapshot{Running: true, Throttled: false}, h.store.snapshots[0])
	assert.Equal(t, state.Snapshot{Running: true, Throttled: true}, h.store.snapshots[1])
	assert.Equal(t, state.Snapshot{Running: true, Throttled: false}, h.store.snapshots[2])
	assert.Equal(t, state.Snapshot{Running: false, Throttled: false}, h.store.snapshots[3])
}

func TestStateStoreFailureDoesNotAffectTransitions(t *testing.T) {
	h := newHarness(t, testConfig())
	h.store.err = errors.New("disk full")

	require.True(t, h.sup.StartWorker(context.Background()))
	h.tick(86)

	assert.Equal(t, StateThrottled, h.sup.Status().State)
}

func TestThrottleWindowSetIffThrottled(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))
	assert.Nil(t, h.sup.Status().ThrottledSince)

	h.tick(86)
	require.NotNil(t, h.sup.Status().ThrottledSince)
	assert.Equal(t, h.clock.Now(), *h.sup.Status().ThrottledSince)

	h.tick(59)
	assert.Nil(t, h.sup.Status().ThrottledSince)
}

func TestSensorFailureRunEmitsSingleWarning(t *testing.T) {
	h := newHarness(t, testConfig())

	for i := 0; i < 4; i++ {
		h.sup.HandleSensorFailure()
	}
	assert.Equal(t, 0, h.notifier.countTitle("Temperature Sensor Error"))

	h.sup.HandleSensorFailure()
	assert.Equal(t, 1, h.notifier.countTitle("Temperature Sensor Error"))

	// Counter reset: the next run needs another full streak.
	h.sup.HandleSensorFailure()
	assert.Equal(t, 1, h.notifier.countTitle("Temperature Sensor Error"))
}

func TestSuccessfulReadResetsSensorFailureRun(t *testing.T) {
	h := newHarness(t, testConfig())

	for i := 0; i < 4; i++ {
		h.sup.HandleSensorFailure()
	}
	h.tick(50)
	for i := 0; i < 4; i++ {
		h.sup.HandleSensorFailure()
	}

	assert.Equal(t, 0, h.notifier.countTitle("Temperature Sensor Error"))
}

func TestThrottleFailureKeepsRunning(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))
	h.launcher.started[0].prioErr = errors.New("renice failed")

	h.tick(86)

	// No throttle happened, so no claim of Throttled state.
	assert.Equal(t, StateRunning, h.sup.Status().State)
	assert.Equal(t, 0, h.notifier.countTitle("CPU Overheating"))
}

func TestCrashedWorkerIsRestartedWhenCool(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	h.launcher.started[0].alive = false
	h.tick(50)

	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Len(t, h.launcher.started, 2)
	assert.True(t, h.launcher.started[1].alive)
}

func TestShutdownStopsWorkerGracefully(t *testing.T) {
	h := newHarness(t, testConfig())
	require.True(t, h.sup.StartWorker(context.Background()))

	h.sup.Shutdown(context.Background())

	st := h.sup.Status()
	assert.Equal(t, StateStopped, st.State)
	p := h.launcher.started[0]
	assert.Equal(t, 1, p.stops)
	assert.Equal(t, 0, p.forceStops)
	assert.False(t, p.alive)
}

func TestStatusReportsWorkerPID(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.Zero(t, h.sup.Status().WorkerPID)

	require.True(t, h.sup.StartWorker(context.Background()))
	assert.Equal(t, h.launcher.started[0].pid, h.sup.Status().WorkerPID)
}
