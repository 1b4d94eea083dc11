package whois

import (
	"errors"
	"fmt"
	"strings"
	"time"

	whoisparser "github.com/likexian/whois-parser"
)

// ExpirationRecord is the normalized result of parsing a WHOIS response.
type ExpirationRecord struct {
	Domain    string
	ExpiresAt time.Time // calendar date, UTC midnight
	Registrar string
	Statuses  []string
}

// expiryLabels are the recognized expiration field labels, in priority
// order. The first label that matches a line wins. New registrar
// dialects are added as rows here, not as new code paths.
var expiryLabels = []string{
	"registry expiry date:",
	"registrar registration expiration date:",
	"expiry date:",
	"expiration date:",
	"expiration time:",
	"expires on:",
	"expires:",
	"expiry:",
	"paid-till:",
	"renewal date:",
}

// dateFormats are tried in order against an extracted label value.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05 (MST)",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"02 Jan 2006",
	"2006.01.02 15:04:05",
	"2006.01.02",
	"2006/01/02",
	"02.01.2006",
}

// thinResponseMarkers indicate the queried server holds no authoritative
// record for the domain, typically because a referral is needed or the
// domain is unregistered.
var thinResponseMarkers = []string{
	"no match for",
	"no match!!",
	"not found",
	"no entries found",
	"no data found",
	"no object found",
	"object does not exist",
	"domain not found",
	"status: free",
	"refer:",
	"redirect to",
	"to single out one record",
}

// rateLimitMarkers indicate the server answered but refused the query
// for quota reasons instead of returning registration data.
var rateLimitMarkers = []string{
	"rate limit",
	"quota exceeded",
	"too many requests",
	"try again later",
	"requests of this client are not permitted",
	"lookups of this domain are restricted",
	"exceeded the maximum allowable",
}

// IsRateLimitResponse reports whether raw WHOIS text is a rate-limit
// refusal rather than registration data.
func IsRateLimitResponse(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Parse converts raw registrar-specific WHOIS text into a normalized
// ExpirationRecord. It is a pure function over the text: the structured
// whois-parser pass supplies registrar and status metadata and handles
// well-formed responses, and the label table takes over for dialects it
// does not cover.
func Parse(raw, domain string) (ExpirationRecord, error) {
	rec := ExpirationRecord{Domain: domain}

	info, perr := whoisparser.Parse(raw)
	if perr == nil {
		if info.Registrar != nil {
			rec.Registrar = info.Registrar.Name
		}
		if info.Domain != nil {
			rec.Statuses = info.Domain.Status
			if info.Domain.ExpirationDateInTime != nil {
				rec.ExpiresAt = dateUTC(*info.Domain.ExpirationDateInTime)
				return rec, nil
			}
		}
	} else if errors.Is(perr, whoisparser.ErrNotFoundDomain) {
		return rec, fmt.Errorf("parse %s: %w", domain, ErrThinRegistryResponse)
	}

	value, found := findExpiryValue(raw)
	if !found {
		if isThinResponse(raw) {
			return rec, fmt.Errorf("parse %s: %w", domain, ErrThinRegistryResponse)
		}
		return rec, fmt.Errorf("parse %s: %w", domain, ErrNoExpirationField)
	}

	t, err := parseDate(value)
	if err != nil {
		return rec, fmt.Errorf("parse %s: %w: %q", domain, ErrUnrecognizedDateFormat, value)
	}
	rec.ExpiresAt = dateUTC(t)
	return rec, nil
}

// findExpiryValue scans the response for the highest-priority expiration
// label and returns its value.
func findExpiryValue(raw string) (string, bool) {
	lines := strings.Split(raw, "\n")
	for _, label := range expiryLabels {
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if len(trimmed) < len(label) {
				continue
			}
			if strings.EqualFold(trimmed[:len(label)], label) {
				return strings.TrimSpace(trimmed[len(label):]), true
			}
		}
	}
	return "", false
}

func parseDate(value string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no format matched %q", value)
}

func isThinResponse(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range thinResponseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// dateUTC truncates a timestamp to its UTC calendar date.
func dateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
