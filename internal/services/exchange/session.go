package exchange

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

var (
	ErrSubmissionPending = errors.New("a submission is already in flight")
	ErrAlreadySubmitted  = errors.New("a job was already submitted in this session")
)

type SessionState int

const (
	StateIdle SessionState = iota
	StatePending
	StateSubmitted
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSubmitted:
		return "submitted"
	default:
		return "idle"
	}
}

// Session is one visit of the exchange screen. It allows at most one job and
// reuses a single idempotency key for every attempt to submit it.
type Session struct {
	submitter *Submitter
	userID    string
	key       string

	mu     sync.Mutex
	state  SessionState
	handle domain.JobHandle
}

func NewSession(submitter *Submitter, userID string) *Session {
	return &Session{
		submitter: submitter,
		userID:    userID,
		key:       uuid.NewString(),
	}
}

// CanSubmit reports whether a job for amount may be submitted now.
func (s *Session) CanSubmit(amount decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return amount.IsPositive() && s.state == StateIdle
}

// Submit sends the job for pair. Rejected submissions issue no request.
// On failure the session returns to idle so the user can retry.
func (s *Session) Submit(ctx context.Context, pair domain.Pair, amount, expected decimal.Decimal) (domain.JobHandle, error) {
	if !amount.IsPositive() {
		return domain.JobHandle{}, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	switch s.state {
	case StatePending:
		s.mu.Unlock()
		return domain.JobHandle{}, ErrSubmissionPending
	case StateSubmitted:
		s.mu.Unlock()
		return domain.JobHandle{}, ErrAlreadySubmitted
	}
	s.state = StatePending
	s.mu.Unlock()

	handle, err := s.submitter.Submit(ctx, domain.ConversionJobRequest{
		ClientID:       s.userID,
		SourceCurrency: pair.From,
		TargetCurrency: pair.To,
		SourceAmount:   amount,
		IdempotencyKey: s.key,
	}, expected)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		return domain.JobHandle{}, err
	}
	s.state = StateSubmitted
	s.handle = handle
	return handle, nil
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the submitted job, if any.
func (s *Session) Handle() (domain.JobHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.state == StateSubmitted
}

func (s *Session) IdempotencyKey() string {
	return s.key
}

func (s *Session) UserID() string {
	return s.userID
}
