// Package challenge renders and validates the sign-in message wallets sign.
//
// The layout is a wire format: wallets display it verbatim and signatures
// cover its exact bytes, so any change breaks existing clients.
package challenge

import (
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/walletauth/core"
)

// DefaultWindow is the maximum distance between Issued At and verification time
const DefaultWindow = 300 * time.Second

// IssuedAtLayout formats Issued At as ISO-8601 UTC with microseconds
const IssuedAtLayout = "2006-01-02T15:04:05.000000Z"

const (
	addressPrefix  = "Address:"
	uriPrefix      = "URI:"
	noncePrefix    = "Nonce:"
	issuedAtPrefix = "Issued At:"
	minLines       = 6
)

// Codec renders and validates challenge messages for one frontend
type Codec struct {
	domain string
	uri    string
	window time.Duration
}

// NewCodec creates a codec for the frontend at frontendURL. The domain shown
// to the user is the URL without its scheme.
func NewCodec(frontendURL string, window time.Duration) *Codec {
	if window <= 0 {
		window = DefaultWindow
	}
	domain := strings.TrimPrefix(strings.TrimPrefix(frontendURL, "https://"), "http://")
	return &Codec{domain: domain, uri: frontendURL, window: window}
}

// Domain returns the domain shown on the intent line
func (c *Codec) Domain() string { return c.domain }

// Render builds the message for address and nonce issued at issuedAt
func (c *Codec) Render(address, nonce string, issuedAt time.Time) string {
	return Render(c.domain, c.uri, address, nonce, issuedAt)
}

// Render builds a challenge message. The output is byte-stable for equal inputs.
func Render(domain, uri, address, nonce string, issuedAt time.Time) string {
	var b strings.Builder
	b.WriteString(domain)
	b.WriteString(" wants you to sign in with your Hedera account:\n\n")
	b.WriteString(addressPrefix + " " + address + "\n")
	b.WriteString(uriPrefix + " " + uri + "\n")
	b.WriteString(noncePrefix + " " + nonce + "\n")
	b.WriteString(issuedAtPrefix + " " + issuedAt.UTC().Format(IssuedAtLayout))
	return b.String()
}

// Expectation is what a submitted message must match
type Expectation struct {
	Address string
	Nonce   string
	Now     time.Time
	// FoldCase compares the address case-insensitively (EVM)
	FoldCase bool
}

// Validate checks the structure and freshness of message. Every failure wraps
// core.ErrMalformedChallenge.
func (c *Codec) Validate(message string, exp Expectation) error {
	lines := splitLines(message)
	if len(lines) < minLines {
		return malformed("expected at least %d lines, got %d", minLines, len(lines))
	}

	if !strings.HasPrefix(lines[0], c.domain+" wants you to sign in") {
		return malformed("intent line does not name domain %q", c.domain)
	}

	addressLine, ok := findLine(lines, addressPrefix)
	if !ok {
		return malformed("missing Address line")
	}
	if exp.Address == "" || !containsAddress(addressLine, exp.Address, exp.FoldCase) {
		return malformed("address line does not contain the claimed address")
	}

	nonceLine, ok := findLine(lines, noncePrefix)
	if !ok {
		return malformed("missing Nonce line")
	}
	if exp.Nonce == "" || !strings.Contains(nonceLine, exp.Nonce) {
		return malformed("nonce line does not contain the expected nonce")
	}

	issuedLine, ok := findLine(lines, issuedAtPrefix)
	if !ok {
		return malformed("missing Issued At line")
	}
	issuedAt, err := ParseIssuedAt(strings.TrimSpace(strings.TrimPrefix(issuedLine, issuedAtPrefix)))
	if err != nil {
		return malformed("%v", err)
	}

	skew := exp.Now.Sub(issuedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > c.window {
		return malformed("issued at %s is outside the %s window", issuedAt.Format(time.RFC3339), c.window)
	}

	return nil
}

// ExtractNonce returns the value of the Nonce line
func ExtractNonce(message string) (string, error) {
	line, ok := findLine(splitLines(message), noncePrefix)
	if !ok {
		return "", malformed("missing Nonce line")
	}
	nonce := strings.TrimSpace(strings.TrimPrefix(line, noncePrefix))
	if nonce == "" {
		return "", malformed("empty nonce")
	}
	return nonce, nil
}

// ParseIssuedAt parses an ISO-8601 timestamp. A missing zone means UTC; any
// other offset than UTC is rejected.
func ParseIssuedAt(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		if _, offset := t.Zone(); offset != 0 {
			return time.Time{}, fmt.Errorf("issued at %q is not UTC", value)
		}
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", value, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("issued at %q is not an ISO-8601 timestamp", value)
}

func splitLines(message string) []string {
	lines := strings.Split(message, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func findLine(lines []string, prefix string) (string, bool) {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return line, true
		}
	}
	return "", false
}

func containsAddress(line, address string, fold bool) bool {
	if fold {
		return strings.Contains(strings.ToLower(line), strings.ToLower(address))
	}
	return strings.Contains(line, address)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrMalformedChallenge, fmt.Sprintf(format, args...))
}
