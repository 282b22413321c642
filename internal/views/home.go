package views

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/accounts"
)

// NoTransactionsText is shown for a loaded but empty history.
const NoTransactionsText = "no transactions yet"

// AccountsSource refreshes the account set.
type AccountsSource interface {
	Refresh(ctx context.Context, userID string) (accounts.Snapshot, error)
}

// HistorySource lists recent jobs.
type HistorySource interface {
	List(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}

// HomeState is a copy of the home screen for rendering.
type HomeState struct {
	UserID       string
	Accounts     Section[[]domain.Account]
	Transactions Section[[]domain.Transaction]
	Selected     int
}

// SelectedAccount returns the account currently shown.
func (s HomeState) SelectedAccount() (domain.Account, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Accounts.Data) {
		return domain.Account{}, false
	}
	return s.Accounts.Data[s.Selected], true
}

// TransactionsStatus is the text shown instead of the list, empty when the list is shown.
func (s HomeState) TransactionsStatus() string {
	switch s.Transactions.State {
	case Idle, Loading:
		return "loading transactions..."
	case Failed:
		return s.Transactions.Err
	case Empty:
		return NoTransactionsText
	default:
		return ""
	}
}

// HomeView loads accounts and then transactions. A new Load cancels the one
// still running and the stale cycle leaves the state untouched.
type HomeView struct {
	accounts AccountsSource
	history  HistorySource
	userID   string
	limit    int

	mu     sync.Mutex
	state  HomeState
	cycle  uint64
	cancel context.CancelFunc
}

func NewHomeView(source AccountsSource, history HistorySource, userID string, limit int) *HomeView {
	return &HomeView{
		accounts: source,
		history:  history,
		userID:   userID,
		limit:    limit,
		state:    HomeState{UserID: userID, Selected: -1},
	}
}

// Load runs one load cycle. It returns the first error of the cycle, or nil
// when the cycle was superseded.
func (v *HomeView) Load(ctx context.Context) error {
	ctx, cycle, ok := v.begin(ctx)
	if !ok {
		return nil
	}
	defer v.end(cycle)

	var firstErr error

	snap, err := v.accounts.Refresh(ctx, v.userID)
	v.mu.Lock()
	if v.cycle != cycle || ctx.Err() != nil || errors.Is(err, accounts.ErrSuperseded) {
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		v.state.Accounts = Section[[]domain.Account]{State: Failed, Err: err.Error(), Data: v.state.Accounts.Data}
		firstErr = err
	} else {
		v.state.Accounts = Section[[]domain.Account]{State: stateOf(len(snap.Accounts)), Data: snap.Accounts}
		v.state.Selected = snap.Selection.From
	}
	v.mu.Unlock()

	txs, err := v.history.List(ctx, v.userID, v.limit)
	v.mu.Lock()
	if v.cycle != cycle || ctx.Err() != nil {
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		v.state.Transactions = Section[[]domain.Transaction]{State: Failed, Err: err.Error(), Data: v.state.Transactions.Data}
		if firstErr == nil {
			firstErr = err
		}
	} else {
		v.state.Transactions = Section[[]domain.Transaction]{State: stateOf(len(txs)), Data: txs}
	}
	v.mu.Unlock()

	return firstErr
}

// Reload is Load bound to the user of the view; it satisfies events.ReloadFunc.
func (v *HomeView) Reload(ctx context.Context, userID string) error {
	if userID != "" && userID != v.userID {
		return nil
	}
	return v.Load(ctx)
}

// Select changes the displayed account.
func (v *HomeView) Select(i int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.state.Accounts.Data) {
		return errors.Errorf("account index %d out of range", i)
	}
	v.state.Selected = i
	return nil
}

// State returns a copy of the current screen state.
func (v *HomeView) State() HomeState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *HomeView) begin(parent context.Context) (context.Context, uint64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if parent.Err() != nil {
		return nil, 0, false
	}
	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	v.cancel = cancel
	v.cycle++

	v.state.Accounts.State = Loading
	v.state.Accounts.Err = ""
	v.state.Transactions.State = Loading
	v.state.Transactions.Err = ""

	return ctx, v.cycle, true
}

func (v *HomeView) end(cycle uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cycle == cycle && v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func stateOf(n int) LoadState {
	if n == 0 {
		return Empty
	}
	return Loaded
}
