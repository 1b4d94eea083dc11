package whois

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxBackoff caps the doubling retry delay so a slow domain cannot stall
// a cycle indefinitely.
const maxBackoff = time.Minute

// Resolver turns a domain name into a parsed ExpirationRecord, applying
// retry with exponential backoff and a per-TLD-authority rate gate.
// Resolve never consults or mutates watchlist state; two calls for the
// same domain perform two independent lookups.
type Resolver struct {
	fetcher Fetcher
	log     *logrus.Logger
	retries int
	backoff time.Duration
	every   time.Duration

	mu    sync.Mutex
	gates map[string]*rate.Limiter
}

// NewResolver creates a resolver. retries is the total attempt budget,
// backoff the initial delay between attempts, and every the minimum
// spacing between queries against the same TLD authority (zero disables
// the gate).
func NewResolver(fetcher Fetcher, log *logrus.Logger, retries int, backoff, every time.Duration) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		log:     log,
		retries: retries,
		backoff: backoff,
		every:   every,
		gates:   make(map[string]*rate.Limiter),
	}
}

// gate returns the shared limiter for the domain's TLD authority.
func (r *Resolver) gate(domain string) *rate.Limiter {
	tld := domain
	if i := strings.LastIndex(domain, "."); i >= 0 {
		tld = domain[i+1:]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.gates[tld]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.every), 1)
		r.gates[tld] = lim
	}
	return lim
}

// Resolve fetches and parses WHOIS data for a domain. Transient
// failures (network, rate limiting, thin responses) are retried up to
// the attempt budget with doubling backoff plus jitter; structural parse
// failures are returned immediately since retrying the same text source
// cannot change the outcome.
func (r *Resolver) Resolve(ctx context.Context, domain string) (ExpirationRecord, error) {
	var lastErr error
	backoff := r.backoff

	for attempt := 1; attempt <= r.retries; attempt++ {
		if attempt > 1 {
			// Jitter avoids synchronized retries across domains.
			jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ExpirationRecord{}, fmt.Errorf("resolve %s: %w: %v", domain, ErrNetworkUnavailable, ctx.Err())
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if r.every > 0 {
			if err := r.gate(domain).Wait(ctx); err != nil {
				return ExpirationRecord{}, fmt.Errorf("resolve %s: %w: %v", domain, ErrNetworkUnavailable, err)
			}
		}

		raw, err := r.fetcher.Fetch(ctx, domain)
		if err != nil {
			lastErr = err
			r.log.Debugf("WHOIS attempt %d for %s: %v", attempt, domain, err)
			continue
		}

		if IsRateLimitResponse(raw) {
			lastErr = fmt.Errorf("resolve %s: %w", domain, ErrRateLimited)
			r.log.Debugf("WHOIS attempt %d for %s: rate limited", attempt, domain)
			continue
		}

		rec, err := Parse(raw, domain)
		if err != nil {
			if errors.Is(err, ErrThinRegistryResponse) {
				lastErr = err
				r.log.Debugf("WHOIS attempt %d for %s: thin response", attempt, domain)
				continue
			}
			return ExpirationRecord{}, fmt.Errorf("resolve %s: %w", domain, err)
		}
		return rec, nil
	}

	return ExpirationRecord{}, fmt.Errorf("resolve %s after %d attempts: %w: %w", domain, r.retries, ErrExhaustedRetries, lastErr)
}
