package alert

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yksanjo/domain-expiration-monitor/pkg/state"
)

// Outcome describes how Evaluate applied a freshly resolved expiration
// date to a record.
type Outcome int

const (
	// OutcomeApplied means the date matched the recorded one.
	OutcomeApplied Outcome = iota
	// OutcomeRenewal means the date moved forward (or was recorded for
	// the first time) and the fired set was reset.
	OutcomeRenewal
	// OutcomeRejected means the date regressed; the record was left
	// untouched because in-force expiration dates never move backward
	// outside of a parse anomaly.
	OutcomeRejected
)

// Tracker holds the configured thresholds and turns resolved expiration
// dates into alert events. It performs no I/O; every decision is a pure
// state transition on the record it is handed.
type Tracker struct {
	thresholds []int // ascending, validated at startup
	log        *logrus.Logger
}

// NewTracker creates a tracker. thresholds must be positive and sorted
// ascending (config validation guarantees both).
func NewTracker(thresholds []int, log *logrus.Logger) *Tracker {
	return &Tracker{thresholds: thresholds, log: log}
}

// Evaluate applies newExpiration to the record as of today and returns
// the alert events that must fire now.
//
// A strictly later date than recorded (or a first observation) is a
// renewal: the recorded date moves forward and the fired set clears so
// the new cycle can re-alert on the same thresholds. A strictly earlier
// date is rejected without mutating the record. An equal date is a
// no-op for alert state.
//
// Threshold events fire for every configured threshold at or above the
// current days remaining that has not fired this cycle, in ascending
// order, so a domain that skipped checks catches up on all crossed
// thresholds in one pass. Past expiration, an expired event re-fires at
// most once per calendar day regardless of the fired set.
func (t *Tracker) Evaluate(rec *state.DomainRecord, newExpiration, today time.Time) (Outcome, []Event) {
	exp := dateUTC(newExpiration)
	day := dateUTC(today)

	outcome := OutcomeApplied
	switch {
	case rec.LastKnownExpiration == nil || exp.After(dateUTC(*rec.LastKnownExpiration)):
		rec.LastKnownExpiration = &exp
		rec.ClearFired()
		outcome = OutcomeRenewal
	case exp.Before(dateUTC(*rec.LastKnownExpiration)):
		t.log.Warnf("Rejected expiration regression for %s: recorded %s, got %s",
			rec.Name, rec.LastKnownExpiration.Format("2006-01-02"), exp.Format("2006-01-02"))
		return OutcomeRejected, nil
	}

	days := daysBetween(day, exp)
	var events []Event

	if days < 0 && (rec.LastExpiredAlert == nil || dateUTC(*rec.LastExpiredAlert).Before(day)) {
		rec.LastExpiredAlert = &day
		events = append(events, Event{
			Kind:          KindExpired,
			Domain:        rec.Name,
			DaysRemaining: days,
			Expiration:    exp,
			Severity:      SeverityExpired,
		})
	}

	for _, threshold := range t.thresholds {
		if days <= threshold && !rec.HasFired(threshold) {
			rec.MarkFired(threshold)
			events = append(events, Event{
				Kind:          KindThreshold,
				Domain:        rec.Name,
				ThresholdDays: threshold,
				DaysRemaining: days,
				Expiration:    exp,
				Severity:      Classify(days),
			})
		}
	}

	return outcome, events
}

// DaysRemaining computes whole calendar days between today and the
// record's known expiration. The second return is false when no
// expiration has been resolved yet.
func DaysRemaining(rec *state.DomainRecord, today time.Time) (int, bool) {
	if rec.LastKnownExpiration == nil {
		return 0, false
	}
	return daysBetween(dateUTC(today), dateUTC(*rec.LastKnownExpiration)), true
}

// daysBetween assumes both arguments are UTC midnights, so the interval
// is an exact multiple of 24 hours.
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func dateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
