// Package dns probes whether a monitored domain still resolves at the registry
package dns

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Checker performs SOA lookups against the system resolver.
type Checker struct {
	timeout time.Duration
}

// New creates a DNS checker with the given per-query timeout.
func New(timeout time.Duration) *Checker {
	return &Checker{timeout: timeout}
}

// IsAvailable does a DNS SOA lookup for the domain. A missing SOA
// record usually means the registration has lapsed or been deleted, so
// true here is a strong signal that a monitored domain is in trouble
// independent of WHOIS reachability.
func (c *Checker) IsAvailable(ctx context.Context, domain string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := dns.Client{}
	m := dns.Msg{}
	m.SetQuestion(dns.Fqdn(domain), dns.TypeSOA)

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return false, fmt.Errorf("read DNS config: %w", err)
	}

	resp, _, err := client.ExchangeContext(cctx, &m, net.JoinHostPort(conf.Servers[0], conf.Port))
	if err != nil {
		return false, fmt.Errorf("SOA query for %s: %w", domain, err)
	}

	// No SOA answer means nothing authoritative exists for the name.
	return len(resp.Answer) == 0, nil
}
