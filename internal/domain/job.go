package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("source amount must be greater than zero")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
	ErrMissingClientID = errors.New("client id is required")
)

// JobStatus lifecycle state of a remote conversion job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job has settled.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ConversionJobRequest payload submitted to the remote jobs endpoint.
type ConversionJobRequest struct {
	ClientID       string          `json:"client_id"`
	SourceCurrency string          `json:"source_currency"`
	TargetCurrency string          `json:"target_currency"`
	SourceAmount   decimal.Decimal `json:"source_amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Validate checks the request before it leaves the client.
func (r ConversionJobRequest) Validate() error {
	if r.ClientID == "" {
		return ErrMissingClientID
	}
	if !ValidCode(r.SourceCurrency) {
		return errors.Wrapf(ErrInvalidCurrency, "source currency %q", r.SourceCurrency)
	}
	if !ValidCode(r.TargetCurrency) {
		return errors.Wrapf(ErrInvalidCurrency, "target currency %q", r.TargetCurrency)
	}
	if !r.SourceAmount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Pair returns the currency pair of the request.
func (r ConversionJobRequest) Pair() Pair {
	return Pair{From: r.SourceCurrency, To: r.TargetCurrency}
}

// MarshalJSON encodes the amount as a JSON number, which is what the gateway expects.
func (r ConversionJobRequest) MarshalJSON() ([]byte, error) {
	type wire struct {
		ClientID       string      `json:"client_id"`
		SourceCurrency string      `json:"source_currency"`
		TargetCurrency string      `json:"target_currency"`
		SourceAmount   json.Number `json:"source_amount"`
		IdempotencyKey string      `json:"idempotency_key,omitempty"`
	}
	return json.Marshal(wire{
		ClientID:       r.ClientID,
		SourceCurrency: r.SourceCurrency,
		TargetCurrency: r.TargetCurrency,
		SourceAmount:   json.Number(r.SourceAmount.String()),
		IdempotencyKey: r.IdempotencyKey,
	})
}

// ConversionJob read-only copy of a remote job. The remote service owns it;
// the client never changes Status locally, it only re-fetches.
type ConversionJob struct {
	JobID          string          `json:"job_id"`
	ClientID       string          `json:"client_id"`
	SourceCurrency string          `json:"source_currency"`
	TargetCurrency string          `json:"target_currency"`
	SourceAmount   decimal.Decimal `json:"source_amount"`
	TargetAmount   decimal.Decimal `json:"target_amount"`
	Rate           decimal.Decimal `json:"rate"`
	Fee            decimal.Decimal `json:"fee"`
	Status         JobStatus       `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Transaction is a job as shown in the history list.
type Transaction = ConversionJob

// TransactionsResponse is the body of the remote jobs list endpoint.
type TransactionsResponse struct {
	UserID string        `json:"user_id"`
	Jobs   []Transaction `json:"jobs"`
}

// JobHandle is what the client keeps after a successful submission.
type JobHandle struct {
	JobID     string
	Status    JobStatus
	CreatedAt time.Time
	Request   ConversionJobRequest
	// ExpectedTarget is the locally previewed target amount, zero when unknown.
	ExpectedTarget decimal.Decimal
}
