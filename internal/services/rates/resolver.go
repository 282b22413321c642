// Package rates resolves conversion rates used to preview exchanges.
package rates

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// DefaultFeeBps is the fee reported by the static table.
const DefaultFeeBps = 30

const staticProvider = "static"

// The pairs are not strict inverses of each other.
var defaultTable = map[string]decimal.Decimal{
	"USD:EUR": decimal.RequireFromString("0.90"),
	"EUR:USD": decimal.RequireFromString("1.16"),
	"USD:GBP": decimal.RequireFromString("1.26"),
	"GBP:USD": decimal.RequireFromString("0.79"),
	"EUR:GBP": decimal.RequireFromString("1.16"),
	"GBP:EUR": decimal.RequireFromString("0.90"),
}

// Resolver is a fixed rate table. It is immutable after construction and safe
// for concurrent use.
type Resolver struct {
	table map[string]decimal.Decimal
}

// NewResolver creates a resolver from the default table extended or
// overridden by overrides, keyed FROM:TO.
func NewResolver(overrides map[string]decimal.Decimal) *Resolver {
	table := make(map[string]decimal.Decimal, len(defaultTable)+len(overrides))
	for k, v := range defaultTable {
		table[k] = v
	}
	for k, v := range overrides {
		from, to, ok := splitKey(k)
		if !ok || !v.IsPositive() {
			continue
		}
		table[domain.NewPair(from, to).String()] = v
	}
	return &Resolver{table: table}
}

// Resolve returns the rate for from->to. It never fails: identical codes
// resolve to 1 and so do pairs missing from the table.
func (r *Resolver) Resolve(from, to string) decimal.Decimal {
	rate, _ := r.Lookup(domain.NewPair(from, to))
	return rate
}

// Lookup is Resolve that also reports whether the pair was known.
func (r *Resolver) Lookup(pair domain.Pair) (decimal.Decimal, bool) {
	if pair.Identity() {
		return decimal.NewFromInt(1), true
	}
	rate, ok := r.table[pair.String()]
	if !ok {
		return decimal.NewFromInt(1), false
	}
	return rate, true
}

// Pairs returns the number of tabulated pairs.
func (r *Resolver) Pairs() int {
	return len(r.table)
}

// Convert previews amount converted at rate.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}

func splitKey(k string) (string, string, bool) {
	from, to, ok := strings.Cut(k, ":")
	if !ok {
		return "", "", false
	}
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	return from, to, domain.ValidCode(from) && domain.ValidCode(to)
}
