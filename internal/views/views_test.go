package views

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/accounts"
	"github.com/vadiminshakov/fxdesk/internal/services/exchange"
	"github.com/vadiminshakov/fxdesk/internal/services/rates"
)

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Refresh(ctx context.Context, userID string) (accounts.Snapshot, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(accounts.Snapshot), args.Error(1)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) List(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	args := m.Called(ctx, userID, limit)
	txs, _ := args.Get(0).([]domain.Transaction)
	return txs, args.Error(1)
}

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) CreateConversionJob(ctx context.Context, req domain.ConversionJobRequest) (domain.ConversionJob, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.ConversionJob), args.Error(1)
}

func snapshotOf(list ...domain.Account) accounts.Snapshot {
	return accounts.Snapshot{
		UserID:     "c1",
		Accounts:   list,
		Selection:  domain.SelectDefaults(list, "USD", "EUR"),
		Generation: 1,
	}
}

func acc(code, balance string) domain.Account {
	return domain.Account{Currency: code, Balance: decimal.RequireFromString(balance)}
}

func TestSanitizeAmount(t *testing.T) {
	tests := map[string]string{
		"100":       "100",
		"-$1,234.5": "1234.5",
		"1.2.3":     "12.3",
		"abc":       "",
		"..5":       ".5",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeAmount(in), in)
	}
}

func TestParseAndFormatAmount(t *testing.T) {
	assert.True(t, decimal.Zero.Equal(ParseAmount("")))
	assert.True(t, decimal.Zero.Equal(ParseAmount(".")))
	assert.True(t, decimal.RequireFromString("0.5").Equal(ParseAmount(".5")))
	assert.True(t, decimal.NewFromInt(5).Equal(ParseAmount("5.")))

	assert.Equal(t, "90", FormatAmount(decimal.RequireFromString("90.000000"), 6))
	assert.Equal(t, "0.123457", FormatAmount(decimal.RequireFromString("0.1234567"), 6))
	assert.Equal(t, "100", FormatAmount(decimal.NewFromInt(100), 6))
}

func TestHomeView_Load(t *testing.T) {
	t.Run("loaded accounts and empty history", func(t *testing.T) {
		accts := new(mockAccounts)
		accts.On("Refresh", mock.Anything, "c1").Return(snapshotOf(acc("GBP", "1"), acc("USD", "100")), nil)
		hist := new(mockHistory)
		hist.On("List", mock.Anything, "c1", 10).Return([]domain.Transaction{}, nil)

		v := NewHomeView(accts, hist, "c1", 10)
		assert.Equal(t, "loading transactions...", v.State().TransactionsStatus())

		require.NoError(t, v.Load(context.Background()))
		st := v.State()
		assert.Equal(t, Loaded, st.Accounts.State)
		assert.Equal(t, Empty, st.Transactions.State)
		assert.Equal(t, NoTransactionsText, st.TransactionsStatus())

		selected, ok := st.SelectedAccount()
		require.True(t, ok)
		assert.Equal(t, "USD", selected.Currency)

		require.NoError(t, v.Select(0))
		selected, _ = v.State().SelectedAccount()
		assert.Equal(t, "GBP", selected.Currency)
		assert.Error(t, v.Select(2))
	})

	t.Run("failure is distinct from empty", func(t *testing.T) {
		accts := new(mockAccounts)
		accts.On("Refresh", mock.Anything, "c1").Return(accounts.Snapshot{}, errors.New("API 500 Internal Server Error: boom"))
		hist := new(mockHistory)
		hist.On("List", mock.Anything, "c1", 10).Return(nil, errors.New("API 502 Bad Gateway: down"))

		v := NewHomeView(accts, hist, "c1", 10)
		err := v.Load(context.Background())
		assert.ErrorContains(t, err, "boom")

		st := v.State()
		assert.Equal(t, Failed, st.Accounts.State)
		assert.Equal(t, Failed, st.Transactions.State)
		assert.Contains(t, st.TransactionsStatus(), "down")
		assert.NotEqual(t, NoTransactionsText, st.TransactionsStatus())
	})

	t.Run("superseded cycle returns silently", func(t *testing.T) {
		accts := new(mockAccounts)
		accts.On("Refresh", mock.Anything, "c1").Return(accounts.Snapshot{}, accounts.ErrSuperseded)
		hist := new(mockHistory)

		v := NewHomeView(accts, hist, "c1", 10)
		assert.NoError(t, v.Load(context.Background()))
		hist.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reload ignores other users", func(t *testing.T) {
		accts := new(mockAccounts)
		v := NewHomeView(accts, new(mockHistory), "c1", 10)
		assert.NoError(t, v.Reload(context.Background(), "c2"))
		accts.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})
}

func newExchangeView(t *testing.T, accts AccountsSource, creator *mockCreator) *ExchangeView {
	t.Helper()
	session := exchange.NewSession(exchange.NewSubmitter(creator, nil, nil), "c1")
	return NewExchangeView(accts, rates.NewResolver(nil), session)
}

func TestExchangeView(t *testing.T) {
	t.Run("defaults before load", func(t *testing.T) {
		v := newExchangeView(t, new(mockAccounts), new(mockCreator))
		st := v.State()
		assert.Equal(t, "USD", st.From.Code)
		assert.Equal(t, "EUR", st.To.Code)
		assert.Equal(t, "100", st.Amount)
		assert.True(t, decimal.NewFromInt(90).Equal(st.Preview))
		assert.True(t, st.CanSubmit)
	})

	t.Run("load picks defaults and refresh keeps choice", func(t *testing.T) {
		accts := new(mockAccounts)
		accts.On("Refresh", mock.Anything, "c1").Return(snapshotOf(acc("USD", "100"), acc("EUR", "50"), acc("GBP", "0")), nil)
		v := newExchangeView(t, accts, new(mockCreator))

		require.NoError(t, v.Load(context.Background()))
		require.NoError(t, v.SelectPair("GBP", "USD"))
		assert.True(t, decimal.RequireFromString("0.79").Equal(v.State().Rate))

		v.ApplySnapshot(snapshotOf(acc("USD", "80"), acc("EUR", "50"), acc("GBP", "12")))
		st := v.State()
		assert.Equal(t, "GBP", st.From.Code)
		assert.True(t, decimal.NewFromInt(12).Equal(st.From.Balance))
		assert.True(t, decimal.NewFromInt(80).Equal(st.To.Balance))

		v.ApplySnapshot(snapshotOf(acc("USD", "80"), acc("EUR", "50")))
		st = v.State()
		assert.Equal(t, "USD", st.From.Code)
		assert.Equal(t, "EUR", st.To.Code)
	})

	t.Run("single account converts to itself", func(t *testing.T) {
		v := newExchangeView(t, new(mockAccounts), new(mockCreator))
		v.ApplySnapshot(snapshotOf(acc("GBP", "10")))
		st := v.State()
		assert.Equal(t, "GBP", st.From.Code)
		assert.Equal(t, "GBP", st.To.Code)
		assert.True(t, decimal.NewFromInt(1).Equal(st.Rate))
	})

	t.Run("swap uses previous preview", func(t *testing.T) {
		v := newExchangeView(t, new(mockAccounts), new(mockCreator))
		v.Swap()
		st := v.State()
		assert.Equal(t, "EUR", st.From.Code)
		assert.Equal(t, "USD", st.To.Code)
		assert.Equal(t, "90", st.Amount)
		assert.True(t, decimal.RequireFromString("104.4").Equal(st.Preview))
		assert.True(t, st.Flipped)

		v.SetAmount("")
		v.Swap()
		assert.Equal(t, "", v.State().Amount)
	})

	t.Run("submit once", func(t *testing.T) {
		creator := new(mockCreator)
		creator.On("CreateConversionJob", mock.Anything, mock.MatchedBy(func(req domain.ConversionJobRequest) bool {
			return req.SourceAmount.Equal(decimal.RequireFromString("12.5")) && req.TargetCurrency == "EUR"
		})).Return(domain.ConversionJob{JobID: "j9", Status: domain.JobStatusQueued}, nil).Once()

		v := newExchangeView(t, new(mockAccounts), creator)
		assert.Equal(t, "12.5", v.SetAmount("$12.5"))

		h, err := v.Submit(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "j9", h.JobID)
		assert.True(t, decimal.RequireFromString("11.25").Equal(h.ExpectedTarget))

		st := v.State()
		assert.Equal(t, "j9", st.JobID)
		assert.False(t, st.CanSubmit)

		_, err = v.Submit(context.Background())
		assert.ErrorIs(t, err, exchange.ErrAlreadySubmitted)
		assert.NotEmpty(t, v.State().SubmitErr)
	})

	t.Run("zero amount cannot submit", func(t *testing.T) {
		v := newExchangeView(t, new(mockAccounts), new(mockCreator))
		v.SetAmount("0")
		assert.False(t, v.CanSubmit())
		_, err := v.Submit(context.Background())
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})
}

type gatedFetcher struct {
	mock.Mock
	started chan struct{}
	release chan struct{}
}

func (f *gatedFetcher) FetchAccounts(ctx context.Context, userID string) (domain.AccountsResponse, error) {
	args := f.Called(ctx, userID)
	if args.Bool(2) {
		close(f.started)
		<-f.release
	}
	return args.Get(0).(domain.AccountsResponse), args.Error(1)
}

func TestViews_SharedCacheOverlap(t *testing.T) {
	list := domain.AccountsResponse{Accounts: []domain.Account{acc("USD", "100"), acc("EUR", "50")}}
	fetcher := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	fetcher.On("FetchAccounts", mock.Anything, "c1").Return(list, nil, true).Once()
	fetcher.On("FetchAccounts", mock.Anything, "c1").Return(list, nil, false).Once()
	cache := accounts.NewCache(fetcher)

	hist := new(mockHistory)
	hist.On("List", mock.Anything, "c1", 10).Return([]domain.Transaction{}, nil)
	home := NewHomeView(cache, hist, "c1", 10)
	ex := newExchangeView(t, cache, new(mockCreator))

	homeErr := make(chan error, 1)
	go func() { homeErr <- home.Load(context.Background()) }()
	<-fetcher.started

	require.NoError(t, ex.Load(context.Background()))
	close(fetcher.release)

	select {
	case err := <-homeErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("home load did not return")
	}

	st := home.State()
	assert.Equal(t, Loaded, st.Accounts.State)
	assert.Equal(t, Empty, st.Transactions.State)
	assert.Equal(t, NoTransactionsText, st.TransactionsStatus())

	exSt := ex.State()
	assert.Equal(t, Loaded, exSt.Accounts.State)
	assert.True(t, decimal.NewFromInt(100).Equal(exSt.From.Balance))
}
