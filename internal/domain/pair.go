// Package domain defines core data structures shared by the exchange front end.
package domain

import (
	"fmt"
	"strings"
)

// Pair ordered currency pair.
type Pair struct {
	// From currency being sold.
	From string
	// To currency being bought.
	To string
}

// NewPair creates a pair with normalized currency codes.
func NewPair(from, to string) Pair {
	return Pair{From: NormalizeCode(from), To: NormalizeCode(to)}
}

// String returns the rate table key, for example USD:EUR.
func (p Pair) String() string {
	return fmt.Sprintf("%s:%s", p.From, p.To)
}

// Identity reports whether both legs are the same currency.
func (p Pair) Identity() bool {
	return p.From == p.To
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is a three letter currency code.
func ValidCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
