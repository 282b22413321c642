package exchange

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) CreateConversionJob(ctx context.Context, req domain.ConversionJobRequest) (domain.ConversionJob, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.ConversionJob), args.Error(1)
}

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) Record(handle domain.JobHandle) error {
	return m.Called(handle).Error(0)
}

var usdEur = domain.NewPair("USD", "EUR")

func TestSubmitter_Submit(t *testing.T) {
	t.Run("validates before sending", func(t *testing.T) {
		creator := new(mockCreator)
		s := NewSubmitter(creator, nil, zap.NewNop())

		_, err := s.Submit(context.Background(), domain.ConversionJobRequest{
			ClientID: "c1", SourceCurrency: "USD", TargetCurrency: "EUR", SourceAmount: decimal.Zero,
		}, decimal.Zero)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)

		_, err = s.Submit(context.Background(), domain.ConversionJobRequest{
			ClientID: "c1", SourceCurrency: "US", TargetCurrency: "EUR", SourceAmount: decimal.NewFromInt(1),
		}, decimal.Zero)
		assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

		creator.AssertNotCalled(t, "CreateConversionJob", mock.Anything, mock.Anything)
	})

	t.Run("upstream rejection", func(t *testing.T) {
		creator := new(mockCreator)
		creator.On("CreateConversionJob", mock.Anything, mock.Anything).Return(domain.ConversionJob{},
			&clients.UpstreamError{Status: http.StatusBadRequest, StatusText: "Bad Request", Body: `{"error":"insufficient funds"}`})

		_, err := NewSubmitter(creator, nil, nil).Submit(context.Background(), domain.ConversionJobRequest{
			ClientID: "c1", SourceCurrency: "usd", TargetCurrency: "eur", SourceAmount: decimal.NewFromInt(5),
		}, decimal.Zero)

		var se *SubmissionError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadRequest, se.Status)
		assert.Contains(t, se.Body, "insufficient funds")
	})

	t.Run("journals the created job", func(t *testing.T) {
		created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		creator := new(mockCreator)
		creator.On("CreateConversionJob", mock.Anything, mock.MatchedBy(func(req domain.ConversionJobRequest) bool {
			return req.SourceCurrency == "USD" && req.TargetCurrency == "EUR"
		})).Return(domain.ConversionJob{JobID: "j1", Status: domain.JobStatusQueued, CreatedAt: created}, nil)

		journal := new(mockJournal)
		journal.On("Record", mock.MatchedBy(func(h domain.JobHandle) bool { return h.JobID == "j1" })).Return(nil)

		h, err := NewSubmitter(creator, journal, nil).Submit(context.Background(), domain.ConversionJobRequest{
			ClientID: "c1", SourceCurrency: "usd", TargetCurrency: "eur", SourceAmount: decimal.NewFromInt(100),
		}, decimal.NewFromInt(90))
		require.NoError(t, err)
		assert.Equal(t, created, h.CreatedAt)
		assert.True(t, decimal.NewFromInt(90).Equal(h.ExpectedTarget))
		journal.AssertExpectations(t)
	})
}

func TestSession_Submit(t *testing.T) {
	t.Run("one post per allowed submission", func(t *testing.T) {
		creator := new(mockCreator)
		creator.On("CreateConversionJob", mock.Anything, mock.Anything).
			Return(domain.ConversionJob{JobID: "j1", Status: domain.JobStatusQueued}, nil).Once()

		s := NewSession(NewSubmitter(creator, nil, nil), "c1")
		assert.True(t, s.CanSubmit(decimal.NewFromInt(10)))
		assert.False(t, s.CanSubmit(decimal.Zero))

		h, err := s.Submit(context.Background(), usdEur, decimal.NewFromInt(10), decimal.NewFromInt(9))
		require.NoError(t, err)
		assert.Equal(t, "j1", h.JobID)
		assert.Equal(t, StateSubmitted, s.State())
		assert.False(t, s.CanSubmit(decimal.NewFromInt(10)))

		_, err = s.Submit(context.Background(), usdEur, decimal.NewFromInt(10), decimal.Zero)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)

		got, ok := s.Handle()
		assert.True(t, ok)
		assert.Equal(t, "j1", got.JobID)
		creator.AssertNumberOfCalls(t, "CreateConversionJob", 1)
	})

	t.Run("second submission while pending is rejected", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})

		creator := new(mockCreator)
		creator.On("CreateConversionJob", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			close(started)
			<-release
		}).Return(domain.ConversionJob{JobID: "j1"}, nil).Once()

		s := NewSession(NewSubmitter(creator, nil, nil), "c1")
		done := make(chan error, 1)
		go func() {
			_, err := s.Submit(context.Background(), usdEur, decimal.NewFromInt(10), decimal.Zero)
			done <- err
		}()
		<-started

		assert.Equal(t, StatePending, s.State())
		assert.False(t, s.CanSubmit(decimal.NewFromInt(10)))
		_, err := s.Submit(context.Background(), usdEur, decimal.NewFromInt(10), decimal.Zero)
		assert.ErrorIs(t, err, ErrSubmissionPending)

		close(release)
		require.NoError(t, <-done)
		creator.AssertNumberOfCalls(t, "CreateConversionJob", 1)
	})

	t.Run("failure returns to idle and reuses the key", func(t *testing.T) {
		var keys []string
		creator := new(mockCreator)
		creator.On("CreateConversionJob", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(domain.ConversionJobRequest).IdempotencyKey)
		}).Return(domain.ConversionJob{}, errors.Wrap(clients.ErrNetwork, "dial")).Once()
		creator.On("CreateConversionJob", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(domain.ConversionJobRequest).IdempotencyKey)
		}).Return(domain.ConversionJob{JobID: "j2"}, nil).Once()

		s := NewSession(NewSubmitter(creator, nil, nil), "c1")

		_, err := s.Submit(context.Background(), usdEur, decimal.NewFromInt(10), decimal.Zero)
		assert.ErrorIs(t, err, clients.ErrNetwork)
		assert.Equal(t, StateIdle, s.State())

		h, err := s.Submit(context.Background(), usdEur, decimal.NewFromInt(10), decimal.Zero)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, h.Status)

		require.Len(t, keys, 2)
		assert.Equal(t, keys[0], keys[1])
		assert.Equal(t, s.IdempotencyKey(), keys[0])
	})

	t.Run("invalid amount issues no request", func(t *testing.T) {
		creator := new(mockCreator)
		s := NewSession(NewSubmitter(creator, nil, nil), "c1")

		_, err := s.Submit(context.Background(), usdEur, decimal.NewFromInt(-1), decimal.Zero)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		assert.Equal(t, StateIdle, s.State())
		creator.AssertNotCalled(t, "CreateConversionJob", mock.Anything, mock.Anything)
	})
}
