// Command domain-expiration-monitor tracks a watchlist of domains and
// alerts through the configured channels before their registrations
// expire.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yksanjo/domain-expiration-monitor/pkg/alert"
	"github.com/yksanjo/domain-expiration-monitor/pkg/config"
	"github.com/yksanjo/domain-expiration-monitor/pkg/dns"
	"github.com/yksanjo/domain-expiration-monitor/pkg/logger"
	"github.com/yksanjo/domain-expiration-monitor/pkg/notify"
	"github.com/yksanjo/domain-expiration-monitor/pkg/scheduler"
	"github.com/yksanjo/domain-expiration-monitor/pkg/state"
	"github.com/yksanjo/domain-expiration-monitor/pkg/whois"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [arguments]

Commands:
  add <domain>       add a domain to the watchlist
  remove <domain>    remove a domain from the watchlist
  list               show all monitored domains
  check              run one check cycle over the watchlist
  watch [-interval]  check continuously until interrupted
`, os.Args[0])
}

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	store := state.NewManager(cfg.WatchlistFile, log)
	if err := store.Load(); err != nil {
		log.Fatalf("Failed to load watchlist: %v", err)
	}

	switch command {
	case "add":
		os.Exit(cmdAdd(cfg, log, store, args))
	case "remove":
		os.Exit(cmdRemove(log, store, args))
	case "list":
		os.Exit(cmdList(store))
	case "check":
		os.Exit(cmdCheck(cfg, log, store))
	case "watch":
		os.Exit(cmdWatch(cfg, log, store, args))
	default:
		usage()
		os.Exit(1)
	}
}

// newResolver wires the WHOIS lookup chain from the validated config.
func newResolver(cfg *config.Config, log *logrus.Logger) *whois.Resolver {
	fetcher := whois.NewClient(cfg.Timeout)
	return whois.NewResolver(fetcher, log, cfg.Retries, cfg.Backoff, cfg.WhoisRateEvery)
}

// newRunner wires the full check pipeline from the validated config.
func newRunner(cfg *config.Config, log *logrus.Logger, store *state.Manager) *scheduler.Runner {
	var channels []notify.Notifier
	if email := notify.NewEmail(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom, cfg.EmailTo); email != nil {
		channels = append(channels, email)
	}
	if slack := notify.NewSlack(cfg.SlackWebhook); slack != nil {
		channels = append(channels, slack)
	}

	dispatcher := notify.NewDispatcher(log, channels...)
	tracker := alert.NewTracker(cfg.Thresholds, log)
	probe := dns.New(cfg.Timeout)
	return scheduler.New(cfg, log, store, newResolver(cfg, log), tracker, dispatcher, probe)
}

func cmdAdd(cfg *config.Config, log *logrus.Logger, store *state.Manager, args []string) int {
	if len(args) != 1 {
		usage()
		return 1
	}

	rec, err := store.Add(args[0], time.Now())
	if err != nil {
		if errors.Is(err, state.ErrAlreadyMonitored) {
			log.Warnf("Domain %s already monitored", state.Normalize(args[0]))
		} else {
			log.Errorf("Cannot add domain: %v", err)
		}
		return 1
	}

	// Best-effort initial lookup so list output is useful right away; a
	// failure here still leaves the domain monitored.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*time.Duration(cfg.Retries+1))
	defer cancel()
	if res, err := newResolver(cfg, log).Resolve(ctx, rec.Name); err != nil {
		log.Warnf("Initial lookup for %s failed: %v", rec.Name, err)
	} else {
		expires := res.ExpiresAt
		rec.LastKnownExpiration = &expires
		rec.Registrar = res.Registrar
		rec.LastCheckedAt = time.Now()
		log.Infof("%s expires %s", rec.Name, expires.Format("2006-01-02"))
	}

	if err := store.Save(); err != nil {
		log.Errorf("Failed to save watchlist: %v", err)
		return 1
	}
	log.Infof("Added domain %s", rec.Name)
	return 0
}

func cmdRemove(log *logrus.Logger, store *state.Manager, args []string) int {
	if len(args) != 1 {
		usage()
		return 1
	}

	if err := store.Remove(args[0]); err != nil {
		log.Errorf("%v", err)
		return 1
	}
	if err := store.Save(); err != nil {
		log.Errorf("Failed to save watchlist: %v", err)
		return 1
	}
	log.Infof("Removed domain %s", state.Normalize(args[0]))
	return 0
}

func cmdList(store *state.Manager) int {
	records := store.List()
	if len(records) == 0 {
		fmt.Println("No domains monitored")
		return 0
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tEXPIRATION\tDAYS LEFT\tSTATUS\tREGISTRAR\tLAST CHECKED\tFAILURES")
	for _, rec := range records {
		expiration, daysLeft, status := "unknown", "n/a", "unknown"
		if days, ok := alert.DaysRemaining(rec, now); ok {
			expiration = rec.LastKnownExpiration.Format("2006-01-02")
			daysLeft = fmt.Sprintf("%d", days)
			status = string(alert.Classify(days))
		}
		checked := "never"
		if !rec.LastCheckedAt.IsZero() {
			checked = rec.LastCheckedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			rec.Name, expiration, daysLeft, status, rec.Registrar, checked, rec.ConsecutiveFailures)
	}
	w.Flush()
	return 0
}

func cmdCheck(cfg *config.Config, log *logrus.Logger, store *state.Manager) int {
	runner := newRunner(cfg, log, store)
	report, err := runner.RunOnce(context.Background())
	if err != nil {
		log.Errorf("Check cycle failed: %v", err)
		return 1
	}
	if report.Events > 0 || report.HardFailures > 0 {
		return 2
	}
	return 0
}

func cmdWatch(cfg *config.Config, log *logrus.Logger, store *state.Manager, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", cfg.CheckInterval, "time between check cycles")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Starting continuous monitoring, checking every %s", *interval)
	runner := newRunner(cfg, log, store)
	if err := runner.Watch(ctx, *interval); err != nil {
		log.Errorf("Watch aborted: %v", err)
		return 1
	}
	return 0
}
