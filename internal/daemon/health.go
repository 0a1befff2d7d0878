package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/karlsen/thermwatch/internal/supervisor"
	"github.com/karlsen/thermwatch/internal/version"
)

// HealthStatus represents the overall health of the daemon.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check.
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthResponse represents the complete health check response.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status.
func (d *Daemon) PerformHealthChecks(ctx context.Context) *HealthResponse {
	st := d.sup.Status()

	checks := []HealthCheck{
		d.checkSamplerHealth(st),
		d.checkWorkerHealth(st),
		d.checkStateStoreHealth(),
	}
	if d.history != nil {
		checks = append(checks, d.checkHistoryHealth(ctx))
	}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch c.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return &HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startTime).String(),
		Version:   version.Version,
		Checks:    checks,
	}
}

// checkSamplerHealth verifies the sampling loop is ticking. A loop that has
// not run for three intervals is stuck, which leaves the worker unprotected.
func (d *Daemon) checkSamplerHealth(st supervisor.Status) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        "sampling_loop",
		LastChecked: start,
	}

	interval := d.cfg.Thresholds.SampleInterval.Std()
	switch {
	case st.LastTickAt.IsZero():
		check.Status = HealthStatusDegraded
		check.Message = "No temperature sample processed yet"
	case time.Since(st.LastTickAt) > 3*interval:
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Last sample processed %s ago (interval %s)",
			time.Since(st.LastTickAt).Round(time.Second), interval)
	default:
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Last temperature %.1f°C", st.LastTemperature)
	}

	check.Duration = time.Since(start)
	return check
}

// checkWorkerHealth reports the supervised worker's lifecycle state.
func (d *Daemon) checkWorkerHealth(st supervisor.Status) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        "worker",
		LastChecked: start,
	}

	switch {
	case st.RestartsExhausted:
		check.Status = HealthStatusUnhealthy
		check.Message = "Worker restart attempts exhausted, manual reset required"
	case st.State == supervisor.StateRunning:
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Worker running (pid %d)", st.WorkerPID)
	case st.State == supervisor.StateThrottled:
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("Worker throttled since %s", st.ThrottledSince.Format(time.RFC3339))
	default:
		check.Status = HealthStatusDegraded
		check.Message = "Worker stopped"
	}

	check.Duration = time.Since(start)
	return check
}

// checkStateStoreHealth verifies the snapshot file is readable. A missing
// file is fine (nothing persisted yet); a corrupt one is not.
func (d *Daemon) checkStateStoreHealth() HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        "state_store",
		LastChecked: start,
	}

	if _, err := d.store.Load(); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("State snapshot unreadable: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("State snapshot at %s", d.store.Path())
	}

	check.Duration = time.Since(start)
	return check
}

// checkHistoryHealth pings the history database.
func (d *Daemon) checkHistoryHealth(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        "history",
		LastChecked: start,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.history.Ping(pingCtx); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("History database unreachable: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "History database operational"
	}

	check.Duration = time.Since(start)
	return check
}
