package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversionJobRequest_Validate(t *testing.T) {
	valid := ConversionJobRequest{ClientID: "c1", SourceCurrency: "USD", TargetCurrency: "EUR", SourceAmount: decimal.NewFromInt(10)}
	assert.NoError(t, valid.Validate())

	r := valid
	r.ClientID = ""
	assert.ErrorIs(t, r.Validate(), ErrMissingClientID)

	r = valid
	r.TargetCurrency = "EURO"
	assert.ErrorIs(t, r.Validate(), ErrInvalidCurrency)

	r = valid
	r.SourceAmount = decimal.Zero
	assert.ErrorIs(t, r.Validate(), ErrInvalidAmount)

	r.SourceAmount = decimal.NewFromInt(-5)
	assert.ErrorIs(t, r.Validate(), ErrInvalidAmount)
}

func TestConversionJobRequest_MarshalJSON(t *testing.T) {
	req := ConversionJobRequest{ClientID: "c1", SourceCurrency: "USD", TargetCurrency: "GBP", SourceAmount: decimal.RequireFromString("12.50")}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"c1","source_currency":"USD","target_currency":"GBP","source_amount":12.5}`, string(data))
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestQuote(t *testing.T) {
	now := time.Now()
	q := Quote{Pair: NewPair("usd", "eur"), Rate: decimal.RequireFromString("0.9"), FeeBps: 30}
	assert.False(t, q.Expired(now))
	assert.True(t, decimal.RequireFromString("0.27").Equal(q.Fee(decimal.NewFromInt(100))))

	q.ExpiresAt = now
	assert.True(t, q.Expired(now))
	assert.False(t, q.Expired(now.Add(-time.Second)))
}

func TestPair(t *testing.T) {
	p := NewPair(" usd", "eur ")
	assert.Equal(t, "USD:EUR", p.String())
	assert.False(t, p.Identity())
	assert.True(t, NewPair("gbp", "GBP").Identity())
	assert.False(t, ValidCode("US1"))
	assert.True(t, ValidCode("JPY"))
}
