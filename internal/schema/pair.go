// Package schema defines the canonical data model shared across the connector.
package schema

import "strings"

// Pair is a normalized "BASE-QUOTE" trading-pair identity, independent of
// exchange-native market naming.
type Pair string

// CombinePair builds a normalized pair from its base and quote assets.
// Asset codes are trimmed and upper-cased; an empty side yields an empty pair.
func CombinePair(base, quote string) Pair {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return ""
	}
	return Pair(base + "-" + quote)
}

// Base returns the base asset of the pair, or "" when the pair is malformed.
func (p Pair) Base() string {
	base, _, ok := strings.Cut(string(p), "-")
	if !ok {
		return ""
	}
	return base
}

// Quote returns the quote asset of the pair, or "" when the pair is malformed.
func (p Pair) Quote() string {
	_, quote, ok := strings.Cut(string(p), "-")
	if !ok {
		return ""
	}
	return quote
}

// Valid reports whether the pair carries both sides.
func (p Pair) Valid() bool {
	return p.Base() != "" && p.Quote() != ""
}

func (p Pair) String() string { return string(p) }
