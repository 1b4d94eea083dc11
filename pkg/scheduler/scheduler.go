// Package scheduler drives check cycles over the domain watchlist
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yksanjo/domain-expiration-monitor/pkg/alert"
	"github.com/yksanjo/domain-expiration-monitor/pkg/config"
	"github.com/yksanjo/domain-expiration-monitor/pkg/notify"
	"github.com/yksanjo/domain-expiration-monitor/pkg/state"
	"github.com/yksanjo/domain-expiration-monitor/pkg/whois"
)

// Resolver produces an expiration record for a domain.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (whois.ExpirationRecord, error)
}

// AvailabilityChecker reports whether a domain has dropped out of DNS.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, domain string) (bool, error)
}

// Dispatcher delivers alert events to the configured channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []alert.Event) notify.DispatchReport
}

// Report aggregates the outcome of one check cycle.
type Report struct {
	Checked        int
	Succeeded      int
	Failed         int // lookups that failed this cycle
	HardFailures   int // structurally unparsable responses among the failures
	Renewals       int
	Rejected       int // expiration regressions discarded
	AlertedDomains int
	Events         int
	SendFailures   int
}

// Runner iterates the watchlist, resolves each domain, feeds the result
// to the alert tracker and dispatches whatever fires. It is the only
// component that mutates domain records.
type Runner struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      *state.Manager
	resolver   Resolver
	tracker    *alert.Tracker
	dispatcher Dispatcher
	dns        AvailabilityChecker // optional

	now func() time.Time
}

// New creates a runner. dns may be nil to disable the availability probe.
func New(cfg *config.Config, log *logrus.Logger, store *state.Manager, resolver Resolver,
	tracker *alert.Tracker, dispatcher Dispatcher, dns AvailabilityChecker) *Runner {
	return &Runner{
		cfg:        cfg,
		log:        log,
		store:      store,
		resolver:   resolver,
		tracker:    tracker,
		dispatcher: dispatcher,
		dns:        dns,
		now:        time.Now,
	}
}

// RunOnce checks every domain in the watchlist once and persists the
// updated records. Lookups fan out under a concurrency bound; each
// record is only written by the step that processed its own lookup, so
// no cross-domain lock is needed. A persistence failure is cycle-fatal
// because continuing without durable alert-dedup state risks duplicate
// or lost alerts on the next run.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	records := r.store.List()
	r.log.Infof("Checking %d domain(s)", len(records))

	var (
		mu     sync.Mutex
		report Report
	)

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, rec := range records {
		wg.Add(1)
		sem <- struct{}{} // acquire

		go func(rec *state.DomainRecord) {
			defer wg.Done()
			defer func() { <-sem }() // release

			out := r.checkDomain(ctx, rec)

			mu.Lock()
			report.add(out)
			mu.Unlock()
		}(rec)
	}

	wg.Wait()

	if err := r.store.Save(); err != nil {
		return report, fmt.Errorf("persist watchlist: %w", err)
	}

	r.log.Infof("Cycle complete: %d checked, %d ok, %d failed, %d alert event(s)",
		report.Checked, report.Succeeded, report.Failed, report.Events)
	return report, nil
}

// Watch runs RunOnce immediately and then on every tick until the
// context is cancelled. Cancellation takes effect between iterations;
// an in-flight cycle always finishes its bookkeeping and persists.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) error {
	if _, err := r.RunOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Infof("Watch stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// outcome summarizes one domain's processing for report aggregation.
type outcome struct {
	skipped      bool
	failed       bool
	hard         bool
	renewal      bool
	rejected     bool
	events       int
	sendFailures int
}

func (rep *Report) add(out outcome) {
	if out.skipped {
		return
	}
	rep.Checked++
	if out.failed {
		rep.Failed++
		if out.hard {
			rep.HardFailures++
		}
	} else {
		rep.Succeeded++
	}
	if out.renewal {
		rep.Renewals++
	}
	if out.rejected {
		rep.Rejected++
	}
	if out.events > 0 {
		rep.AlertedDomains++
		rep.Events += out.events
	}
	rep.SendFailures += out.sendFailures
}

// checkDomain runs the full lookup-evaluate-dispatch step for a single
// record. Failures here are contained: they update this record and the
// report and never affect the rest of the cycle.
func (r *Runner) checkDomain(ctx context.Context, rec *state.DomainRecord) outcome {
	now := r.now()

	res, err := r.resolver.Resolve(ctx, rec.Name)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown aborted the lookup; not a real failure.
			return outcome{skipped: true}
		}
		rec.LastCheckedAt = now
		return r.handleFailure(ctx, rec, err)
	}

	rec.LastCheckedAt = now
	rec.ConsecutiveFailures = 0
	rec.AvailableAlerted = false

	result, events := r.tracker.Evaluate(rec, res.ExpiresAt, now)
	// A rejected update is an untrusted response; keep its metadata out
	// of the record along with its date.
	if result != alert.OutcomeRejected && res.Registrar != "" {
		rec.Registrar = res.Registrar
	}
	out := outcome{
		renewal:  result == alert.OutcomeRenewal,
		rejected: result == alert.OutcomeRejected,
	}
	switch result {
	case alert.OutcomeRenewal:
		r.log.Infof("%s expires %s", rec.Name, res.ExpiresAt.Format("2006-01-02"))
	case alert.OutcomeRejected:
		// Tracker already logged the anomaly; the record is unchanged.
	}

	out.events = len(events)
	if len(events) > 0 {
		dr := r.dispatcher.Dispatch(ctx, events)
		out.sendFailures = dr.Failed
	}
	return out
}

// handleFailure updates failure bookkeeping and emits operational
/// alerts. The fired-threshold set is deliberately left alone: stale
// data must never be treated as "no expiration risk".
func (r *Runner) handleFailure(ctx context.Context, rec *state.DomainRecord, err error) outcome {
	rec.ConsecutiveFailures++
	hard := whois.Structural(err)
	r.log.Warnf("Lookup failed for %s (attempt streak %d): %v", rec.Name, rec.ConsecutiveFailures, err)

	var events []alert.Event

	if rec.ConsecutiveFailures%r.cfg.StaleFailures == 0 {
		events = append(events, alert.Event{
			Kind:     alert.KindStale,
			Domain:   rec.Name,
			Severity: alert.SeverityWarning,
			Detail:   fmt.Sprintf("%d consecutive failed checks", rec.ConsecutiveFailures),
		})
	}

	if r.dns != nil && !rec.AvailableAlerted && rec.ConsecutiveFailures >= r.cfg.StaleFailures {
		if available, derr := r.dns.IsAvailable(ctx, rec.Name); derr != nil {
			r.log.Debugf("SOA probe failed for %s: %v", rec.Name, derr)
		} else if available {
			rec.AvailableAlerted = true
			events = append(events, alert.Event{
				Kind:     alert.KindAvailable,
				Domain:   rec.Name,
				Severity: alert.SeverityCritical,
				Detail:   "no SOA record found for the domain",
			})
		}
	}

	out := outcome{failed: true, hard: hard, events: len(events)}
	if len(events) > 0 {
		dr := r.dispatcher.Dispatch(ctx, events)
		out.sendFailures = dr.Failed
	}
	return out
}
