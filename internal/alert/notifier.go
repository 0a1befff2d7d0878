package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karlsen/thermwatch/internal/logfields"
	"github.com/karlsen/thermwatch/internal/metrics"
	"github.com/karlsen/thermwatch/internal/retry"
)

// Channel delivers one alert event to one destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Notifier fans alert events out to all configured channels. Send never
// blocks the caller: each channel delivery runs in its own goroutine with
// bounded attempts, and exhausting attempts drops the event with a log line.
type Notifier struct {
	mu             sync.RWMutex
	channels       []Channel
	policy         retry.Policy
	attemptTimeout time.Duration
	recorder       metrics.Recorder
	wg             sync.WaitGroup
}

// NewNotifier creates a notifier. policy.MaxRetries bounds the retries after
// the first attempt; recorder may be the NoopRecorder.
func NewNotifier(channels []Channel, policy retry.Policy, recorder metrics.Recorder) *Notifier {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Notifier{
		channels:       channels,
		policy:         policy,
		attemptTimeout: 10 * time.Second,
		recorder:       recorder,
	}
}

// SetChannels replaces the channel set. In-flight deliveries keep the
// channels they started with.
func (n *Notifier) SetChannels(channels []Channel) {
	n.mu.Lock()
	n.channels = channels
	n.mu.Unlock()
}

// Send dispatches the event to every channel concurrently and returns
// immediately. A slow or unreachable channel never delays the caller, and a
// failure on one channel never blocks delivery to another.
func (n *Notifier) Send(ev Event) {
	n.mu.RLock()
	channels := n.channels
	n.mu.RUnlock()

	for _, ch := range channels {
		n.wg.Add(1)
		go func(ch Channel) {
			defer n.wg.Done()
			n.deliver(ch, ev)
		}(ch)
	}
}

func (n *Notifier) deliver(ch Channel, ev Event) {
	attempts := n.policy.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := n.attempt(ch, ev)
		if err == nil {
			n.recorder.IncAlertDelivery(ch.Name(), true)
			slog.Info("Alert delivered",
				logfields.Channel(ch.Name()),
				logfields.AlertID(ev.ID),
				logfields.AlertTitle(ev.Title))
			return
		}

		slog.Warn("Alert delivery attempt failed",
			logfields.Channel(ch.Name()),
			logfields.AlertID(ev.ID),
			logfields.Attempt(attempt),
			logfields.Error(err))

		if attempt < attempts {
			time.Sleep(n.policy.Delay(attempt))
		}
	}

	// Exhausted: drop the event. Never propagated to the supervisor.
	n.recorder.IncAlertDelivery(ch.Name(), false)
	slog.Error("Alert dropped after exhausting delivery attempts",
		logfields.Channel(ch.Name()),
		logfields.AlertID(ev.ID),
		logfields.AlertTitle(ev.Title),
		logfields.Attempt(attempts))
}

func (n *Notifier) attempt(ch Channel, ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.attemptTimeout)
	defer cancel()
	return ch.Deliver(ctx, ev)
}

// Close waits for in-flight deliveries to finish or the context to expire.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
