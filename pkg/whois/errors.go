package whois

import "errors"

// Parse failures are structural: the response text itself cannot yield
// an expiration date, so retrying the same source is pointless.
var (
	// ErrNoExpirationField means no recognized expiration label was found.
	ErrNoExpirationField = errors.New("whois: no expiration field in response")
	// ErrUnrecognizedDateFormat means a label was found but its value did not parse.
	ErrUnrecognizedDateFormat = errors.New("whois: unrecognized expiration date format")
	// ErrThinRegistryResponse means the queried server does not hold
	// authoritative records for the domain. Unlike the other parse
	// failures this one is worth retrying against another source.
	ErrThinRegistryResponse = errors.New("whois: thin registry response")
)

// Lookup failures cover the transport and the retry budget.
var (
	// ErrRateLimited means the WHOIS server refused the query for quota reasons.
	ErrRateLimited = errors.New("whois: rate limited by server")
	// ErrNetworkUnavailable means the query could not reach a WHOIS server.
	ErrNetworkUnavailable = errors.New("whois: network unavailable")
	// ErrExhaustedRetries means every attempt in the retry budget failed.
	ErrExhaustedRetries = errors.New("whois: retries exhausted")
)

// Transient reports whether err is a condition that a later attempt may
// clear: network trouble, server-side rate limiting, or a thin response
// that a different source could answer.
func Transient(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrThinRegistryResponse)
}

// Structural reports whether err means the response content itself is
// unusable, so retrying within the same check cannot help.
func Structural(err error) bool {
	return errors.Is(err, ErrNoExpirationField) ||
		errors.Is(err, ErrUnrecognizedDateFormat)
}
