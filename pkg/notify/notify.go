// Package notify delivers alert events through the configured channels
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yksanjo/domain-expiration-monitor/pkg/alert"
)

// Notifier delivers one alert event through a single channel. Each
// implementation renders the event into the payload shape its transport
// expects.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev alert.Event) error
}

// ChannelResult records the outcome of one send on one channel.
type ChannelResult struct {
	Channel string
	Domain  string
	Err     error
}

// DispatchReport aggregates per-channel outcomes for one batch of events.
type DispatchReport struct {
	Delivered int
	Failed    int
	Results   []ChannelResult
}

// Dispatcher fans alert events out to every configured channel. A
// failure on one channel never blocks delivery on another, and nothing
// is retried within the cycle; the next scheduled check is the retry
// boundary.
type Dispatcher struct {
	log      *logrus.Logger
	channels []Notifier
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(log *logrus.Logger, channels ...Notifier) *Dispatcher {
	return &Dispatcher{log: log, channels: channels}
}

// Dispatch sends every event to every channel and reports per-channel
// success or failure. With no channels configured it logs the alerts
// and reports them as delivered, matching how the original tool behaved
// without SMTP settings.
func (d *Dispatcher) Dispatch(ctx context.Context, events []alert.Event) DispatchReport {
	var report DispatchReport
	for _, ev := range events {
		d.log.Infof("Alert for %s: %s", ev.Domain, Subject(ev))
		if len(d.channels) == 0 {
			report.Delivered++
			continue
		}
		for _, ch := range d.channels {
			result := ChannelResult{Channel: ch.Name(), Domain: ev.Domain}
			if err := ch.Send(ctx, ev); err != nil {
				result.Err = err
				report.Failed++
				d.log.Errorf("Failed to send %s alert for %s: %v", ch.Name(), ev.Domain, err)
			} else {
				report.Delivered++
			}
			report.Results = append(report.Results, result)
		}
	}
	return report
}

// Subject renders the one-line summary for an event.
func Subject(ev alert.Event) string {
	switch ev.Kind {
	case alert.KindExpired:
		return fmt.Sprintf("Domain %s has EXPIRED (%d days ago)", ev.Domain, -ev.DaysRemaining)
	case alert.KindStale:
		return fmt.Sprintf("Domain %s cannot be checked: %s", ev.Domain, ev.Detail)
	case alert.KindAvailable:
		return fmt.Sprintf("Domain %s no longer appears registered", ev.Domain)
	default:
		return fmt.Sprintf("Domain %s expires in %d days", ev.Domain, ev.DaysRemaining)
	}
}

// Body renders the multi-line message text for an event.
func Body(ev alert.Event) string {
	switch ev.Kind {
	case alert.KindStale:
		return fmt.Sprintf("Domain: %s\n%s\nThe last known expiration data may be stale; this is a monitoring blind spot, not an all-clear.", ev.Domain, ev.Detail)
	case alert.KindAvailable:
		return fmt.Sprintf("Domain: %s\n%s\nThe domain does not resolve at the registry and may have lapsed or been deleted.", ev.Domain, ev.Detail)
	case alert.KindExpired:
		return fmt.Sprintf("Domain: %s\nExpired: %s (%d days ago)\nSeverity: %s\nRenew immediately; the registration is already lost or in redemption.",
			ev.Domain, ev.Expiration.Format("2006-01-02"), -ev.DaysRemaining, ev.Severity)
	default:
		return fmt.Sprintf("Domain: %s\nExpiration: %s\nDays remaining: %d\nThreshold: %d days\nSeverity: %s",
			ev.Domain, ev.Expiration.Format("2006-01-02"), ev.DaysRemaining, ev.ThresholdDays, ev.Severity)
	}
}
