package market

import "strings"

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOLS - FX + metals metadata
// ═══════════════════════════════════════════════════════════════════════════════
//
// A symbol is a 6-letter pair like EURUSD, USDJPY, XAUUSD. Pip size, default
// spread and provider-specific naming are pure functions of the string.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PipSize returns the pip increment for a symbol: 0.0001 for major FX,
// 0.01 for JPY-quoted pairs, 0.1 for gold.
func PipSize(symbol string) float64 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"):
		return 0.1
	case strings.HasPrefix(s, "XAG"):
		return 0.01
	case strings.HasSuffix(s, "JPY"):
		return 0.01
	default:
		return 0.0001
	}
}

// defaultSpreads holds typical practice-environment spreads in pips.
var defaultSpreads = map[string]float64{
	"EURUSD": 0.6,
	"GBPUSD": 0.9,
	"USDJPY": 0.7,
	"AUDUSD": 0.8,
	"USDCAD": 1.0,
	"USDCHF": 1.1,
	"NZDUSD": 1.2,
	"XAUUSD": 2.5,
	"XAGUSD": 2.0,
}

// DefaultSpreadPips returns the built-in spread for a symbol, in pips.
func DefaultSpreadPips(symbol string) float64 {
	if s, ok := defaultSpreads[strings.ToUpper(symbol)]; ok {
		return s
	}
	return 1.5
}

// Currencies splits a symbol into its base and quote currencies.
// Gold and silver are treated as USD-quoted.
func Currencies(symbol string) (base, quote string) {
	s := strings.ToUpper(symbol)
	if len(s) < 6 {
		return s, "USD"
	}
	return s[:3], s[3:6]
}

// Slash rewrites EURUSD to EUR/USD.
func Slash(symbol string) string {
	base, quote := Currencies(symbol)
	return base + "/" + quote
}

// VenueName rewrites EURUSD to the venue-prefixed underscore form,
// e.g. OANDA:EUR_USD. Used for feed subscriptions.
func VenueName(venue, symbol string) string {
	base, quote := Currencies(symbol)
	return strings.ToUpper(venue) + ":" + base + "_" + quote
}

// Underscore rewrites EURUSD to EUR_USD. Used as the broker instrument name.
func Underscore(symbol string) string {
	base, quote := Currencies(symbol)
	return base + "_" + quote
}

// SuffixName rewrites EURUSD to the suffix form EURUSD=X.
func SuffixName(symbol string) string {
	return strings.ToUpper(symbol) + "=X"
}

// FromUnderscore maps EUR_USD (optionally venue-prefixed) back to EURUSD.
func FromUnderscore(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToUpper(strings.ReplaceAll(name, "_", ""))
}
