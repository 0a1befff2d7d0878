package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/karlsen/thermwatch/internal/logfields"
)

// ErrSensorRead is returned when both the primary command and the sysfs
// fallback fail to produce a usable reading.
var ErrSensorRead = errors.New("sensor read failed")

// Probe reads the CPU temperature from a platform command with a sysfs
// fallback. A Probe is immutable after construction and safe for concurrent
// use, although the sampling loop is its only caller in practice.
type Probe struct {
	command      []string
	fallbackPath string
	timeout      time.Duration
}

// NewProbe creates a probe. command is the primary sensor invocation (e.g.
// ["vcgencmd", "measure_temp"]); fallbackPath is a sysfs file holding
// milli-degrees; timeout bounds the primary command's execution.
func NewProbe(command []string, fallbackPath string, timeout time.Duration) *Probe {
	return &Probe{command: command, fallbackPath: fallbackPath, timeout: timeout}
}

// Read returns the current temperature in degrees Celsius. It tries the
// primary command first and falls back to the sysfs path; it never blocks
// longer than the configured timeout.
func (p *Probe) Read(ctx context.Context) (float64, error) {
	var primaryErr error
	if len(p.command) > 0 {
		temp, err := p.readCommand(ctx)
		if err == nil {
			return temp, nil
		}
		primaryErr = err
		slog.Warn("Primary sensor command failed, trying fallback", logfields.Error(err))
	}

	if p.fallbackPath != "" {
		temp, err := p.readFallback()
		if err == nil {
			return temp, nil
		}
		if primaryErr != nil {
			return 0, fmt.Errorf("%w: command: %v; fallback: %v", ErrSensorRead, primaryErr, err)
		}
		return 0, fmt.Errorf("%w: fallback: %v", ErrSensorRead, err)
	}

	return 0, fmt.Errorf("%w: %v", ErrSensorRead, primaryErr)
}

func (p *Probe) readCommand(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.command[0], p.command[1:]...).Output()
	if err != nil {
		return 0, fmt.Errorf("sensor command failed: %w", err)
	}
	return ParseCommandOutput(string(out))
}

// ParseCommandOutput extracts the temperature from vcgencmd-style output
// such as "temp=54.0'C".
func ParseCommandOutput(out string) (float64, error) {
	line := strings.TrimSpace(out)
	_, value, found := strings.Cut(line, "=")
	if !found {
		return 0, fmt.Errorf("unexpected sensor output %q", line)
	}
	// Trim the unit suffix, e.g. 'C.
	if idx := strings.IndexByte(value, '\''); idx >= 0 {
		value = value[:idx]
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable temperature in sensor output %q: %w", line, err)
	}
	return temp, nil
}

// readFallback reads an integer number of milli-degrees from the sysfs path.
func (p *Probe) readFallback() (float64, error) {
	data, err := os.ReadFile(p.fallbackPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", p.fallbackPath, err)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("unparsable thermal zone value in %s: %w", p.fallbackPath, err)
	}
	return float64(milli) / 1000.0, nil
}
