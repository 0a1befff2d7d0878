package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10s" or "5m" decode directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ThresholdConfig holds the hysteresis thresholds and timing knobs for the
// supervisor. Immutable for the process lifetime; config reloads never touch it.
type ThresholdConfig struct {
	Alert              float64  `yaml:"alert"`
	Resume             float64  `yaml:"resume"`
	Kill               float64  `yaml:"kill"`
	ThrottleDuration   Duration `yaml:"throttle_duration"`
	SampleInterval     Duration `yaml:"sample_interval"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
}

// SensorConfig describes the temperature probe.
type SensorConfig struct {
	Command      []string `yaml:"command"`
	FallbackPath string   `yaml:"fallback_path"`
	Timeout      Duration `yaml:"timeout"`
	// FailureAlertRun is the number of consecutive read failures that
	// triggers a sensor-failure alert.
	FailureAlertRun int `yaml:"failure_alert_run"`
}

// WorkerConfig describes how the supervised worker is launched and stopped.
type WorkerConfig struct {
	Interpreter string   `yaml:"interpreter"`
	Script      string   `yaml:"script"`
	Dir         string   `yaml:"dir"`
	StopTimeout Duration `yaml:"stop_timeout"`
}

// WebhookConfig configures the chat webhook alert channel. The token is never
// read from YAML; it comes from the environment.
type WebhookConfig struct {
	Enabled    bool     `yaml:"enabled"`
	BaseURL    string   `yaml:"base_url"`
	ChannelIDs []string `yaml:"channel_ids"`
	Token      string   `yaml:"-"`
}

// NATSConfig configures the NATS alert channel.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// AlertsConfig groups alert channels and the shared delivery retry policy.
type AlertsConfig struct {
	Webhook     WebhookConfig `yaml:"webhook"`
	NATS        NATSConfig    `yaml:"nats"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  Duration      `yaml:"retry_delay"`
	Backoff     string        `yaml:"backoff"`
}

// StateConfig locates the observability snapshot file.
type StateConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig configures the optional SQLite sample/transition history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HTTPConfig configures the optional observability listener.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the root configuration for the thermwatch daemon.
type Config struct {
	LogLevel   string          `yaml:"log_level"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Sensor     SensorConfig    `yaml:"sensor"`
	Worker     WorkerConfig    `yaml:"worker"`
	Alerts     AlertsConfig    `yaml:"alerts"`
	State      StateConfig     `yaml:"state"`
	History    HistoryConfig   `yaml:"history"`
	HTTP       HTTPConfig      `yaml:"http"`
}

// Default returns the built-in configuration matching the Raspberry Pi
// deployment the daemon was written for.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Thresholds: ThresholdConfig{
			Alert:              85,
			Resume:             60,
			Kill:               90,
			ThrottleDuration:   Duration(300 * time.Second),
			SampleInterval:     Duration(10 * time.Second),
			MaxRestartAttempts: 3,
		},
		Sensor: SensorConfig{
			Command:         []string{"vcgencmd", "measure_temp"},
			FallbackPath:    "/sys/class/thermal/thermal_zone0/temp",
			Timeout:         Duration(5 * time.Second),
			FailureAlertRun: 5,
		},
		Worker: WorkerConfig{
			Interpreter: "python3",
			Script:      "bot.py",
			Dir:         ".",
			StopTimeout: Duration(10 * time.Second),
		},
		Alerts: AlertsConfig{
			Webhook: WebhookConfig{
				Enabled: true,
				BaseURL: "https://discord.com/api/v10",
			},
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Subject: "thermwatch.alerts",
			},
			MaxAttempts: 3,
			RetryDelay:  Duration(30 * time.Second),
			Backoff:     "fixed",
		},
		State:   StateConfig{Path: "bot_state.json"},
		History: HistoryConfig{Path: "thermwatch.db"},
		HTTP:    HTTPConfig{Listen: ":9810"},
	}
}

// Load reads the YAML configuration at path on top of the defaults, overlays
// environment variables (loading .env first when present), and validates the
// result.
func Load(path string) (*Config, error) {
	// Missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and channel ids from the environment, matching
// the watchdog's original .env contract.
func (c *Config) applyEnv() {
	if tok := os.Getenv("DISCORD_TOKEN"); tok != "" {
		c.Alerts.Webhook.Token = tok
	}
	if ids := os.Getenv("CHANNEL_IDS"); ids != "" {
		var parsed []string
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				parsed = append(parsed, id)
			}
		}
		if len(parsed) > 0 {
			c.Alerts.Webhook.ChannelIDs = parsed
		}
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		c.Alerts.NATS.URL = url
	}
}

// Validate checks threshold ordering and the timing/lifecycle knobs.
func (c *Config) Validate() error {
	t := c.Thresholds
	if !(t.Resume < t.Alert && t.Alert < t.Kill) {
		return fmt.Errorf("thresholds must satisfy resume < alert < kill, got resume=%.1f alert=%.1f kill=%.1f",
			t.Resume, t.Alert, t.Kill)
	}
	if t.ThrottleDuration <= 0 {
		return fmt.Errorf("throttle_duration must be positive")
	}
	if t.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be positive")
	}
	if t.MaxRestartAttempts < 1 {
		return fmt.Errorf("max_restart_attempts must be at least 1")
	}
	if len(c.Sensor.Command) == 0 && c.Sensor.FallbackPath == "" {
		return fmt.Errorf("sensor requires a command or a fallback path")
	}
	if c.Sensor.Timeout <= 0 {
		return fmt.Errorf("sensor timeout must be positive")
	}
	if c.Worker.Interpreter == "" || c.Worker.Script == "" {
		return fmt.Errorf("worker interpreter and script are required")
	}
	if c.Worker.StopTimeout <= 0 {
		return fmt.Errorf("worker stop_timeout must be positive")
	}
	if c.Alerts.MaxAttempts < 1 {
		return fmt.Errorf("alerts max_attempts must be at least 1")
	}
	if c.Alerts.Webhook.Enabled {
		if c.Alerts.Webhook.Token == "" {
			return fmt.Errorf("webhook alerts enabled but DISCORD_TOKEN is not set")
		}
		if len(c.Alerts.Webhook.ChannelIDs) == 0 {
			return fmt.Errorf("webhook alerts enabled but no channel ids configured (set CHANNEL_IDS)")
		}
	}
	if c.Alerts.NATS.Enabled && c.Alerts.NATS.URL == "" {
		return fmt.Errorf("nats alerts enabled but no url configured")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state path is required")
	}
	return nil
}

// Init writes the default configuration to path. Refuses to overwrite an
// existing file unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to render default configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
