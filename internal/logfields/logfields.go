package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTemperature = "temperature_c"
	KeyState       = "state"
	KeyFromState   = "from_state"
	KeyToState     = "to_state"
	KeyPGID        = "pgid"
	KeyPID         = "pid"
	KeyChannel     = "channel"
	KeyAttempt     = "attempt"
	KeyAlertID     = "alert_id"
	KeyAlertTitle  = "alert_title"
	KeySeverity    = "severity"
	KeyPath        = "path"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Temperature(c float64) slog.Attr { return slog.Float64(KeyTemperature, c) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func FromState(s string) slog.Attr    { return slog.String(KeyFromState, s) }
func ToState(s string) slog.Attr      { return slog.String(KeyToState, s) }
func PGID(id int) slog.Attr           { return slog.Int(KeyPGID, id) }
func PID(id int) slog.Attr            { return slog.Int(KeyPID, id) }
func Channel(name string) slog.Attr   { return slog.String(KeyChannel, name) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func AlertID(id string) slog.Attr     { return slog.String(KeyAlertID, id) }
func AlertTitle(t string) slog.Attr   { return slog.String(KeyAlertTitle, t) }
func Severity(s string) slog.Attr     { return slog.String(KeySeverity, s) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
