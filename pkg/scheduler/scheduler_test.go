package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yksanjo/domain-expiration-monitor/pkg/alert"
	"github.com/yksanjo/domain-expiration-monitor/pkg/config"
	"github.com/yksanjo/domain-expiration-monitor/pkg/logger"
	"github.com/yksanjo/domain-expiration-monitor/pkg/notify"
	"github.com/yksanjo/domain-expiration-monitor/pkg/state"
	"github.com/yksanjo/domain-expiration-monitor/pkg/whois"
)

// fakeResolver answers from a fixed table.
type fakeResolver struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]whois.ExpirationRecord
	errs    map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls:   make(map[string]int),
		results: make(map[string]whois.ExpirationRecord),
		errs:    make(map[string]error),
	}
}

func (f *fakeResolver) Resolve(_ context.Context, domain string) (whois.ExpirationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[domain]++
	if err, ok := f.errs[domain]; ok {
		return whois.ExpirationRecord{}, err
	}
	return f.results[domain], nil
}

// captureDispatcher records everything dispatched.
type captureDispatcher struct {
	mu     sync.Mutex
	events []alert.Event
}

func (c *captureDispatcher) Dispatch(_ context.Context, events []alert.Event) notify.DispatchReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return notify.DispatchReport{Delivered: len(events)}
}

func (c *captureDispatcher) byDomain(domain string) []alert.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []alert.Event
	for _, ev := range c.events {
		if ev.Domain == domain {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.WatchlistFile = filepath.Join(t.TempDir(), "domains.json")
	cfg.Thresholds = []int{1, 7, 14, 30}
	cfg.StaleFailures = 2
	return cfg
}

// fakeProbe is a canned AvailabilityChecker that counts its calls.
type fakeProbe struct {
	mu        sync.Mutex
	calls     int
	available bool
	err       error
}

func (f *fakeProbe) IsAvailable(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.available, f.err
}

func (f *fakeProbe) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestRunner(t *testing.T, cfg *config.Config, resolver Resolver, dispatcher Dispatcher, probe AvailabilityChecker) (*Runner, *state.Manager) {
	t.Helper()
	log := logger.New()
	store := state.NewManager(cfg.WatchlistFile, log)
	tracker := alert.NewTracker(cfg.Thresholds, log)
	runner := New(cfg, log, store, resolver, tracker, dispatcher, probe)
	return runner, store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRunOnceFailureIsolation(t *testing.T) {
	cfg := testConfig(t)
	resolver := newFakeResolver()
	resolver.errs["a.com"] = fmt.Errorf("resolve a.com: %w", whois.ErrExhaustedRetries)
	resolver.results["b.com"] = whois.ExpirationRecord{Domain: "b.com", ExpiresAt: date(2025, 1, 11), Registrar: "Reg Inc."}

	dispatcher := &captureDispatcher{}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, nil)
	runner.now = func() time.Time { return date(2025, 1, 1) }

	for _, name := range []string{"a.com", "b.com"} {
		if _, err := store.Add(name, date(2024, 1, 1)); err != nil {
			t.Fatal(err)
		}
	}
	aRec := store.Get("a.com")
	aRec.FiredThresholds = []int{30}

	report, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	// b.com was 10 days out: thresholds 14 and 30 fire despite a.com failing.
	bEvents := dispatcher.byDomain("b.com")
	if len(bEvents) != 2 {
		t.Fatalf("b.com got %d events, want 2", len(bEvents))
	}
	if bEvents[0].ThresholdDays != 14 || bEvents[1].ThresholdDays != 30 {
		t.Errorf("b.com thresholds = %d,%d, want 14,30", bEvents[0].ThresholdDays, bEvents[1].ThresholdDays)
	}

	if aRec.ConsecutiveFailures != 1 {
		t.Errorf("a.com ConsecutiveFailures = %d, want 1", aRec.ConsecutiveFailures)
	}
	if len(aRec.FiredThresholds) != 1 || aRec.FiredThresholds[0] != 30 {
		t.Errorf("a.com FiredThresholds = %v, want [30] unchanged on failure", aRec.FiredThresholds)
	}
	if len(dispatcher.byDomain("a.com")) != 0 {
		t.Errorf("a.com got expiration events despite failed lookup")
	}

	if report.Checked != 2 || report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 2 checked, 1 ok, 1 failed", report)
	}
	if report.AlertedDomains != 1 || report.Events != 2 {
		t.Errorf("report alerts = %d domains / %d events, want 1/2", report.AlertedDomains, report.Events)
	}

	// The cycle persisted: a fresh manager sees the updated records.
	reloaded := state.NewManager(cfg.WatchlistFile, logger.New())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.Get("b.com"); got == nil || len(got.FiredThresholds) != 2 {
		t.Errorf("persisted b.com record = %+v, want two fired thresholds", got)
	}
	if got := reloaded.Get("a.com"); got == nil || got.ConsecutiveFailures != 1 {
		t.Errorf("persisted a.com record = %+v, want one failure", got)
	}
}

func TestRunOnceStaleAlert(t *testing.T) {
	cfg := testConfig(t) // StaleFailures = 2
	resolver := newFakeResolver()
	resolver.errs["a.com"] = fmt.Errorf("resolve a.com: %w", whois.ErrNetworkUnavailable)

	dispatcher := &captureDispatcher{}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, nil)
	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}

	// First failing cycle: below the stale threshold, no alert.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := dispatcher.byDomain("a.com"); len(got) != 0 {
		t.Fatalf("got %d events after one failure, want 0", len(got))
	}

	// Second failing cycle crosses the threshold.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	events := dispatcher.byDomain("a.com")
	if len(events) != 1 || events[0].Kind != alert.KindStale {
		t.Fatalf("events = %+v, want one stale alert", events)
	}

	// Third cycle: between multiples, quiet again.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if events := dispatcher.byDomain("a.com"); len(events) != 1 {
		t.Errorf("got %d events after three failures, want still 1", len(events))
	}

	// Fourth cycle: the next multiple re-pages.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if events := dispatcher.byDomain("a.com"); len(events) != 2 {
		t.Errorf("got %d events after four failures, want 2", len(events))
	}
}

func TestRunOnceAvailabilityAlert(t *testing.T) {
	cfg := testConfig(t) // StaleFailures = 2
	resolver := newFakeResolver()
	resolver.errs["a.com"] = fmt.Errorf("resolve a.com: %w", whois.ErrNetworkUnavailable)

	dispatcher := &captureDispatcher{}
	probe := &fakeProbe{available: true}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, probe)
	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}

	availableEvents := func() int {
		n := 0
		for _, ev := range dispatcher.byDomain("a.com") {
			if ev.Kind == alert.KindAvailable {
				n++
			}
		}
		return n
	}

	// One failure is below the streak threshold: no probe, no alert.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if probe.callCount() != 0 {
		t.Fatalf("probe called %d times after one failure, want 0", probe.callCount())
	}
	if availableEvents() != 0 {
		t.Fatalf("availability alert fired after one failure")
	}

	// Second failure crosses the threshold: probe runs, one alert fires.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if probe.callCount() != 1 {
		t.Fatalf("probe called %d times, want 1", probe.callCount())
	}
	if availableEvents() != 1 {
		t.Fatalf("got %d availability alerts, want 1", availableEvents())
	}
	rec := store.Get("a.com")
	if !rec.AvailableAlerted {
		t.Error("AvailableAlerted not set after the alert fired")
	}

	// Further failing cycles stay quiet: the domain was already paged.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if probe.callCount() != 1 {
		t.Errorf("probe re-ran for an already-alerted domain (%d calls)", probe.callCount())
	}
	if availableEvents() != 1 {
		t.Errorf("got %d availability alerts after a third failure, want still 1", availableEvents())
	}

	// A successful lookup re-arms the alert.
	delete(resolver.errs, "a.com")
	resolver.results["a.com"] = whois.ExpirationRecord{Domain: "a.com", ExpiresAt: date(2030, 1, 1)}
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.AvailableAlerted {
		t.Error("AvailableAlerted still set after a successful lookup")
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after recovery, want 0", rec.ConsecutiveFailures)
	}

	// If the domain drops again the alert can fire a second time.
	resolver.errs["a.com"] = fmt.Errorf("resolve a.com: %w", whois.ErrNetworkUnavailable)
	for i := 0; i < 2; i++ {
		if _, err := runner.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if availableEvents() != 2 {
		t.Errorf("got %d availability alerts after a second outage, want 2", availableEvents())
	}
}

func TestRunOnceAvailabilityProbeErrorTolerated(t *testing.T) {
	cfg := testConfig(t)
	resolver := newFakeResolver()
	resolver.errs["a.com"] = fmt.Errorf("resolve a.com: %w", whois.ErrNetworkUnavailable)

	dispatcher := &captureDispatcher{}
	probe := &fakeProbe{err: errors.New("resolv.conf unreadable")}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, probe)
	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := runner.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	for _, ev := range dispatcher.byDomain("a.com") {
		if ev.Kind == alert.KindAvailable {
			t.Fatal("availability alert fired on a failed SOA lookup")
		}
	}
	if store.Get("a.com").AvailableAlerted {
		t.Error("AvailableAlerted set without a confirmed probe result")
	}
}

func TestRunOnceRecoveryResetsFailureStreak(t *testing.T) {
	cfg := testConfig(t)
	resolver := newFakeResolver()
	resolver.errs["a.com"] = fmt.Errorf("resolve a.com: %w", whois.ErrNetworkUnavailable)

	dispatcher := &captureDispatcher{}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, nil)
	runner.now = func() time.Time { return date(2025, 1, 1) }
	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec := store.Get("a.com")
	if rec.ConsecutiveFailures != 1 {
		t.Fatalf("ConsecutiveFailures = %d, want 1", rec.ConsecutiveFailures)
	}

	delete(resolver.errs, "a.com")
	resolver.results["a.com"] = whois.ExpirationRecord{Domain: "a.com", ExpiresAt: date(2026, 1, 1)}
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after recovery, want 0", rec.ConsecutiveFailures)
	}
	if rec.LastKnownExpiration == nil || !rec.LastKnownExpiration.Equal(date(2026, 1, 1)) {
		t.Errorf("LastKnownExpiration = %v, want 2026-01-01", rec.LastKnownExpiration)
	}
}

func TestRunOnceRegressionRejected(t *testing.T) {
	cfg := testConfig(t)
	resolver := newFakeResolver()
	resolver.results["a.com"] = whois.ExpirationRecord{Domain: "a.com", ExpiresAt: date(2025, 5, 1), Registrar: "Fly-by-Night LLC"}

	dispatcher := &captureDispatcher{}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, nil)
	runner.now = func() time.Time { return date(2025, 1, 1) }

	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}
	recorded := date(2025, 6, 1)
	store.Get("a.com").LastKnownExpiration = &recorded
	store.Get("a.com").Registrar = "Reg Inc."

	report, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Rejected != 1 {
		t.Errorf("report.Rejected = %d, want 1", report.Rejected)
	}
	if !store.Get("a.com").LastKnownExpiration.Equal(recorded) {
		t.Error("regressed expiration mutated the record")
	}
	if got := store.Get("a.com").Registrar; got != "Reg Inc." {
		t.Errorf("Registrar = %q after rejected update, want %q kept", got, "Reg Inc.")
	}
	if len(dispatcher.byDomain("a.com")) != 0 {
		t.Error("rejected update still produced alerts")
	}
}

func TestRunOncePersistenceFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	// Point the watchlist at a directory that does not exist so Save fails.
	cfg.WatchlistFile = filepath.Join(cfg.WatchlistFile, "sub", "domains.json")

	runner, _ := newTestRunner(t, cfg, newFakeResolver(), &captureDispatcher{}, nil)
	if _, err := runner.RunOnce(context.Background()); err == nil {
		t.Error("RunOnce with unwritable watchlist returned nil error")
	}
}

func TestWatchStopsBetweenIterations(t *testing.T) {
	cfg := testConfig(t)
	resolver := newFakeResolver()
	resolver.results["a.com"] = whois.ExpirationRecord{Domain: "a.com", ExpiresAt: date(2030, 1, 1)}

	runner, store := newTestRunner(t, cfg, resolver, &captureDispatcher{}, nil)
	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Watch(ctx, 10*time.Millisecond) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancellation")
	}

	resolver.mu.Lock()
	calls := resolver.calls["a.com"]
	resolver.mu.Unlock()
	if calls < 2 {
		t.Errorf("resolver called %d times, want at least the initial pass plus one tick", calls)
	}
}

func TestRunOnceSkipsFailureBookkeepingOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	resolver := newFakeResolver()
	resolver.errs["a.com"] = errors.New("dial aborted")

	dispatcher := &captureDispatcher{}
	runner, store := newTestRunner(t, cfg, resolver, dispatcher, nil)
	if _, err := store.Add("a.com", date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Checked != 0 {
		t.Errorf("report.Checked = %d on cancelled cycle, want 0", report.Checked)
	}
	if store.Get("a.com").ConsecutiveFailures != 0 {
		t.Errorf("aborted lookup counted as a failure")
	}
}
