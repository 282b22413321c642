package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote conversion rate for a pair with its fee and validity window.
type Quote struct {
	Pair       Pair            `json:"pair"`
	Rate       decimal.Decimal `json:"rate"`
	FeeBps     int             `json:"fee_bps"`
	Provider   string          `json:"provider"`
	ObtainedAt time.Time       `json:"obtained_at"`
	// ExpiresAt zero value means the quote never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the quote is no longer valid at now.
func (q Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// Fee returns the fee charged on amount converted at the quote rate.
func (q Quote) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(q.Rate).Mul(decimal.NewFromInt(int64(q.FeeBps))).Div(decimal.NewFromInt(10000))
}
