package settlement

import (
	"context"
	"net/http"
	"sync"
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
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/storage/jobjournal"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchJob(ctx context.Context, jobID, userID string) (domain.ConversionJob, error) {
	args := m.Called(ctx, jobID, userID)
	return args.Get(0).(domain.ConversionJob), args.Error(1)
}

type fakeJournal struct {
	mu      sync.Mutex
	pending []jobjournal.Entry
	settled map[string]jobjournal.Status
}

func (j *fakeJournal) Pending() []jobjournal.Entry {
	return j.pending
}

func (j *fakeJournal) MarkSettled(jobID string, status jobjournal.Status, _ error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settled == nil {
		j.settled = map[string]jobjournal.Status{}
	}
	j.settled[jobID] = status
	return nil
}

var notFound = &clients.UpstreamError{Status: http.StatusNotFound, StatusText: "Not Found", Body: `{"error":"not found"}`}

func fastPoller(fetcher JobFetcher, opts ...Option) *Poller {
	opts = append([]Option{
		WithIntervals(time.Millisecond, 2*time.Millisecond),
		WithTimeout(200 * time.Millisecond),
		WithLogger(zap.NewNop()),
	}, opts...)
	return NewPoller(fetcher, opts...)
}

func TestPoller_Await(t *testing.T) {
	t.Run("completed after not found and processing", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{}, notFound).Once()
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{}, errors.Wrap(clients.ErrNetwork, "reset")).Once()
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{JobID: "j1", Status: domain.JobStatusProcessing}, nil).Once()
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{JobID: "j1", Status: domain.JobStatusCompleted}, nil).Once()

		job, err := fastPoller(fetcher).Await(context.Background(), "j1", "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		fetcher.AssertNumberOfCalls(t, "FetchJob", 4)
	})

	t.Run("failed is distinct", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{JobID: "j1", Status: domain.JobStatusFailed}, nil)

		job, err := fastPoller(fetcher).Await(context.Background(), "j1", "c1")
		assert.ErrorIs(t, err, ErrJobFailed)
		assert.NotErrorIs(t, err, ErrSettlementTimeout)
		assert.Equal(t, "j1", job.JobID)
	})

	t.Run("timeout is distinct", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{}, notFound)

		_, err := fastPoller(fetcher, WithTimeout(20*time.Millisecond)).Await(context.Background(), "j1", "c1")
		assert.ErrorIs(t, err, ErrSettlementTimeout)
		assert.NotErrorIs(t, err, ErrJobFailed)
	})

	t.Run("client error stops polling", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").
			Return(domain.ConversionJob{}, &clients.UpstreamError{Status: http.StatusBadRequest, StatusText: "Bad Request"})

		_, err := fastPoller(fetcher).Await(context.Background(), "j1", "c1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSettlementTimeout)
		fetcher.AssertNumberOfCalls(t, "FetchJob", 1)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{}, notFound)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := fastPoller(fetcher, WithTimeout(time.Second)).Await(ctx, "j1", "c1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrSettlementTimeout)
	})
}

func handle(jobID string, expected int64) domain.JobHandle {
	return domain.JobHandle{
		JobID:  jobID,
		Status: domain.JobStatusQueued,
		Request: domain.ConversionJobRequest{
			ClientID: "c1", SourceCurrency: "USD", TargetCurrency: "EUR", SourceAmount: decimal.NewFromInt(100),
		},
		ExpectedTarget: decimal.NewFromInt(expected),
	}
}

func TestPoller_Settle(t *testing.T) {
	t.Run("reconciled completion publishes and journals", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{
			JobID: "j1", ClientID: "c1", Status: domain.JobStatusCompleted, TargetAmount: decimal.RequireFromString("90.001"),
		}, nil)

		bus := events.NewBus(4)
		sub := bus.Settled.Subscribe()
		journal := &fakeJournal{}

		out, err := fastPoller(fetcher, WithBus(bus), WithJournal(journal)).Settle(context.Background(), handle("j1", 90))
		require.NoError(t, err)
		assert.Equal(t, events.SettlementCompleted, out.Status)
		assert.True(t, out.Reconciled)
		assert.Empty(t, out.Discrepancy)
		assert.Equal(t, jobjournal.StatusCompleted, journal.settled["j1"])

		ev := <-sub
		assert.Equal(t, "c1", ev.UserID)
		assert.Equal(t, events.SettlementCompleted, ev.Outcome)
	})

	t.Run("amount mismatch is flagged", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{
			JobID: "j1", Status: domain.JobStatusCompleted, TargetAmount: decimal.RequireFromString("89.73"),
		}, nil)

		out, err := fastPoller(fetcher).Settle(context.Background(), handle("j1", 90))
		require.NoError(t, err)
		assert.False(t, out.Reconciled)
		assert.Equal(t, "expected 90.00, settled 89.73", out.Discrepancy)
	})

	t.Run("timeout marks journal abandoned", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{}, notFound)
		journal := &fakeJournal{}

		out, err := fastPoller(fetcher, WithTimeout(10*time.Millisecond), WithJournal(journal)).Settle(context.Background(), handle("j1", 90))
		assert.ErrorIs(t, err, ErrSettlementTimeout)
		assert.Equal(t, events.SettlementTimedOut, out.Status)
		assert.Equal(t, jobjournal.StatusAbandoned, journal.settled["j1"])
	})
}

func TestPoller_Resume(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchJob", mock.Anything, "j1", "c1").Return(domain.ConversionJob{JobID: "j1", Status: domain.JobStatusCompleted}, nil)
	fetcher.On("FetchJob", mock.Anything, "j2", "c1").Return(domain.ConversionJob{JobID: "j2", Status: domain.JobStatusFailed}, nil)

	journal := &fakeJournal{pending: []jobjournal.Entry{
		{JobID: "j1", UserID: "c1", From: "USD", To: "EUR", Status: jobjournal.StatusPending},
		{JobID: "j2", UserID: "c1", From: "USD", To: "GBP", Status: jobjournal.StatusPending},
	}}

	require.NoError(t, fastPoller(fetcher, WithJournal(journal)).Resume(context.Background()))
	assert.Equal(t, jobjournal.StatusCompleted, journal.settled["j1"])
	assert.Equal(t, jobjournal.StatusFailed, journal.settled["j2"])
}

func TestReconcile(t *testing.T) {
	job := func(target, fee, rate string) domain.ConversionJob {
		j := domain.ConversionJob{
			SourceAmount: decimal.NewFromInt(100),
			TargetAmount: decimal.RequireFromString(target),
			Fee:          decimal.RequireFromString(fee),
		}
		if rate != "" {
			j.Rate = decimal.RequireFromString(rate)
		}
		return j
	}

	tests := []struct {
		name     string
		expected decimal.Decimal
		job      domain.ConversionJob
		ok       bool
		msg      string
	}{
		{"zero preview", decimal.Zero, job("5", "0", ""), true, ""},
		{"fee of 30 bps", decimal.NewFromInt(90), job("89.73", "0.27", "0.9"), true, ""},
		{"fee without job rate", decimal.NewFromInt(90), job("89.73", "0.27", ""), true, ""},
		{"job rate wins over preview", decimal.NewFromInt(90), job("91.7241", "0.2759", "0.92"), true, ""},
		{"short settlement", decimal.NewFromInt(90), job("88.00", "0.27", "0.9"), false, "expected 90.00, settled 88.27"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg := reconcile(tt.expected, tt.job)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.msg, msg)
		})
	}
}
