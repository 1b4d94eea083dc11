// Package alert decides which expiration alerts must fire for a domain
package alert

import (
	"time"
)

// Kind distinguishes the alert families the monitor emits.
type Kind string

const (
	// KindThreshold fires once per expiration cycle when days remaining
	// crosses a configured threshold.
	KindThreshold Kind = "threshold"
	// KindExpired re-fires daily once a domain is past expiration.
	KindExpired Kind = "expired"
	// KindStale warns that a domain has not been checkable for a number
	// of consecutive attempts.
	KindStale Kind = "stale"
	// KindAvailable warns that a monitored domain no longer appears
	// registered at all.
	KindAvailable Kind = "available"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityExpired  Severity = "expired"
)

// Classify buckets a days-remaining value the same way the list output
// does: expired below zero, critical under a week, warning under thirty
// days, ok otherwise.
func Classify(daysRemaining int) Severity {
	switch {
	case daysRemaining < 0:
		return SeverityExpired
	case daysRemaining < 7:
		return SeverityCritical
	case daysRemaining < 30:
		return SeverityWarning
	default:
		return SeverityOK
	}
}

// Event is one alert to be delivered. Events are ephemeral: they are
// produced during a check cycle and consumed by the dispatcher, never
// persisted.
type Event struct {
	Kind          Kind
	Domain        string
	ThresholdDays int       // zero for non-threshold kinds
	DaysRemaining int       // meaningful for threshold and expired kinds
	Expiration    time.Time // zero for operational kinds
	Severity      Severity
	Detail        string // extra context for operational kinds
}
