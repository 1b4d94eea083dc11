// Package whois resolves domain expiration dates from WHOIS data
package whois

import (
	"context"
	"fmt"
	"time"

	"github.com/likexian/whois"
)

// Fetcher obtains raw WHOIS response text for a domain. Implementations
// own their wire timeout.
type Fetcher interface {
	Fetch(ctx context.Context, domain string) (string, error)
}

// Client fetches WHOIS text over the network.
type Client struct {
	client *whois.Client
}

// NewClient creates a network fetcher with the given per-query timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{client: whois.NewClient().SetTimeout(timeout)}
}

// Fetch queries the responsible WHOIS server for the domain and returns
// the unparsed response text.
func (c *Client) Fetch(ctx context.Context, domain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("fetch %s: %w: %v", domain, ErrNetworkUnavailable, err)
	}
	raw, err := c.client.Whois(domain)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w: %v", domain, ErrNetworkUnavailable, err)
	}
	return raw, nil
}
