package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/karlsen/thermwatch/internal/logfields"
)

// ErrProcessStart is returned when the worker process cannot be launched.
var ErrProcessStart = errors.New("worker start failed")

// Launcher starts the worker as a child process in its own process group so
// the worker and any descendants can be signaled together.
type Launcher struct {
	Interpreter string
	Script      string
	Dir         string
	StopTimeout time.Duration
}

// Start launches the worker. The returned Worker owns the OS process group
// until Stop or ForceStop releases it.
func (l Launcher) Start(ctx context.Context) (*Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessStart, err)
	}

	cmd := exec.Command(l.Interpreter, l.Script)
	cmd.Dir = l.Dir
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessStart, err)
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Setpgid makes the child its own group leader, so the pid is the pgid.
		pgid = cmd.Process.Pid
	}

	w := &Worker{
		cmd:         cmd,
		pgid:        pgid,
		stopTimeout: l.StopTimeout,
		done:        make(chan struct{}),
	}
	go func() {
		w.waitErr = cmd.Wait()
		close(w.done)
	}()

	slog.Info("Worker started", logfields.PID(cmd.Process.Pid), logfields.PGID(pgid))
	return w, nil
}

// Worker is a handle to a running worker process group. All methods are
// called from the sampling loop only.
type Worker struct {
	cmd         *exec.Cmd
	pgid        int
	stopTimeout time.Duration
	done        chan struct{}
	waitErr     error
}

// PID returns the worker's process id.
func (w *Worker) PID() int { return w.cmd.Process.Pid }

// PGID returns the worker's process-group id.
func (w *Worker) PGID() int { return w.pgid }

// Alive reports whether the worker process is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// SetPriority adjusts the scheduling priority of the whole process group.
// nice +10 throttles, 0 restores.
func (w *Worker) SetPriority(nice int) error {
	if !w.Alive() {
		return nil
	}
	if err := syscall.Setpriority(syscall.PRIO_PGRP, w.pgid, nice); err != nil {
		return fmt.Errorf("failed to set priority %d for pgid %d: %w", nice, w.pgid, err)
	}
	return nil
}

// Stop terminates the worker gracefully: SIGTERM to the process group, then
// SIGKILL if it has not exited within the stop timeout. Always releases the
// process-group reference.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.Alive() {
		return nil
	}

	slog.Info("Stopping worker", logfields.PGID(w.pgid))
	if err := w.signal(syscall.SIGTERM); err != nil {
		// Group may already be gone; escalate to be certain.
		slog.Warn("SIGTERM failed, escalating to SIGKILL", logfields.PGID(w.pgid), logfields.Error(err))
		return w.ForceStop()
	}

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		slog.Warn("Worker did not stop gracefully, force killing", logfields.PGID(w.pgid))
		return w.ForceStop()
	case <-ctx.Done():
		return w.ForceStop()
	}
}

// ForceStop sends SIGKILL to the process group immediately, skipping the
// graceful step.
func (w *Worker) ForceStop() error {
	if !w.Alive() {
		return nil
	}

	slog.Warn("Force killing worker", logfields.PGID(w.pgid))
	if err := w.signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill pgid %d: %w", w.pgid, err)
	}

	// SIGKILL cannot be caught; bound the reap wait anyway so a stuck wait
	// never stalls the sampling loop.
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("worker pgid %d not reaped after SIGKILL", w.pgid)
	}
}

// signal delivers sig to the whole process group.
func (w *Worker) signal(sig syscall.Signal) error {
	return syscall.Kill(-w.pgid, sig)
}
