package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func accounts(codes ...string) []Account {
	out := make([]Account, 0, len(codes))
	for _, c := range codes {
		out = append(out, Account{Currency: c, Balance: decimal.NewFromInt(1)})
	}
	return out
}

func TestSelectDefaults(t *testing.T) {
	tests := []struct {
		name     string
		accounts []Account
		want     Selection
	}{
		{"empty", nil, Selection{From: -1, To: -1}},
		{"home and secondary", accounts("USD", "EUR", "GBP"), Selection{From: 0, To: 1}},
		{"home not first", accounts("GBP", "EUR", "USD"), Selection{From: 2, To: 1}},
		{"no home", accounts("GBP", "JPY"), Selection{From: 0, To: 1}},
		{"no secondary", accounts("USD", "GBP"), Selection{From: 0, To: 1}},
		{"single account", accounts("GBP"), Selection{From: 0, To: 0}},
		{"duplicate currency", accounts("USD", "USD"), Selection{From: 0, To: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectDefaults(tt.accounts, "USD", "EUR"))
		})
	}
}

func TestSelectDefaults_SecondaryEqualsHome(t *testing.T) {
	assert.Equal(t, Selection{From: 1, To: 0}, SelectDefaults(accounts("GBP", "USD"), "usd", "USD"))
}

func TestNewBalanceSnapshot(t *testing.T) {
	s := NewBalanceSnapshot(time.Now(), "c1", accounts("USD", "EUR"), Selection{From: 0, To: 1})
	assert.Equal(t, "USD", s.From)
	assert.Equal(t, "EUR", s.To)

	s = NewBalanceSnapshot(time.Now(), "c1", nil, Selection{From: -1, To: -1})
	assert.Empty(t, s.From)
	assert.Empty(t, s.To)
}
