// Package views holds the screen state of the terminal front end,
// independent of how it is drawn.
package views

import (
	"strings"

	"github.com/shopspring/decimal"
)

type LoadState int

const (
	Idle LoadState = iota
	Loading
	Failed
	Empty
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Failed:
		return "failed"
	case Empty:
		return "empty"
	case Loaded:
		return "loaded"
	default:
		return "idle"
	}
}

// Section is one independently loaded part of a screen.
type Section[T any] struct {
	State LoadState
	Err   string
	Data  T
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CAD": "$",
	"JPY": "¥",
}

// Symbol returns the display symbol of a currency, or the code itself.
func Symbol(code string) string {
	if s, ok := currencySymbols[code]; ok {
		return s
	}
	return code
}

// SanitizeAmount keeps digits and a single dot, the last one typed.
func SanitizeAmount(in string) string {
	var b strings.Builder
	lastDot := strings.LastIndex(in, ".")
	for i, r := range in {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && i == lastDot:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAmount reads a sanitized amount; anything unparsable is zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return decimal.Zero
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatAmount renders d with at most places decimals and no trailing zeros.
func FormatAmount(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
