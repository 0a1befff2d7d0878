package alert

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies an alert and maps to the embed color code.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Color returns the embed color code for the severity.
func (s Severity) Color() int {
	switch s {
	case SeverityOK:
		return 0x2ecc71
	case SeverityWarning:
		return 0xf39c12
	case SeverityCritical:
		return 0xe74c3c
	default:
		return 0x3498db
	}
}

// Event is an immutable alert handed to the Notifier. Delivery is
// fire-and-forget from the supervisor's perspective.
type Event struct {
	ID        string
	Title     string
	Body      string
	Severity  Severity
	Timestamp time.Time
}

// NewEvent builds an alert event stamped with a fresh id and the current time.
func NewEvent(title, body string, severity Severity) Event {
	return Event{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}
}
