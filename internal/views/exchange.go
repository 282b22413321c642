package views

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/accounts"
	"github.com/vadiminshakov/fxdesk/internal/services/exchange"
	"github.com/vadiminshakov/fxdesk/internal/services/rates"
)

const (
	defaultAmount = "100"
	previewPlaces = 6
)

// RateSource resolves preview rates.
type RateSource interface {
	Resolve(from, to string) decimal.Decimal
}

// Side one leg of the exchange screen.
type Side struct {
	Code    string
	Balance decimal.Decimal
}

func (s Side) Symbol() string {
	return Symbol(s.Code)
}

// ExchangeState is a copy of the exchange screen for rendering.
type ExchangeState struct {
	Accounts  Section[[]domain.Account]
	From      Side
	To        Side
	Amount    string
	Rate      decimal.Decimal
	Preview   decimal.Decimal
	Flipped   bool
	CanSubmit bool
	Session   exchange.SessionState
	JobID     string
	SubmitErr string
}

// ExchangeView is the state of one exchange screen visit.
type ExchangeView struct {
	accounts AccountsSource
	rates    RateSource
	session  *exchange.Session
	userID   string

	mu        sync.Mutex
	list      Section[[]domain.Account]
	from, to  Side
	amount    string
	rate      decimal.Decimal
	flipped   bool
	synced    bool
	submitErr string
}

func NewExchangeView(source AccountsSource, resolver RateSource, session *exchange.Session) *ExchangeView {
	v := &ExchangeView{
		accounts: source,
		rates:    resolver,
		session:  session,
		userID:   session.UserID(),
		from:     Side{Code: accounts.DefaultHomeCurrency},
		to:       Side{Code: accounts.DefaultSecondaryCurrency},
		amount:   defaultAmount,
	}
	v.rate = resolver.Resolve(v.from.Code, v.to.Code)
	return v
}

// Load refreshes the accounts and applies them.
func (v *ExchangeView) Load(ctx context.Context) error {
	v.mu.Lock()
	v.list.State = Loading
	v.list.Err = ""
	v.mu.Unlock()

	snap, err := v.accounts.Refresh(ctx, v.userID)
	if errors.Is(err, accounts.ErrSuperseded) || ctx.Err() != nil {
		return nil
	}
	if err != nil {
		v.mu.Lock()
		v.list.State = Failed
		v.list.Err = err.Error()
		v.mu.Unlock()
		return err
	}

	v.ApplySnapshot(snap)
	return nil
}

// ApplySnapshot takes the default from/to accounts on the first snapshot.
// Later snapshots only update balances of the chosen currencies, unless one
// of them disappeared.
func (v *ExchangeView) ApplySnapshot(snap accounts.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := snap.Accounts
	v.list = Section[[]domain.Account]{State: stateOf(len(list)), Data: list}
	if len(list) == 0 {
		return
	}

	fromIdx := domain.FindAccount(list, v.from.Code)
	toIdx := domain.FindAccount(list, v.to.Code)
	if !v.synced || fromIdx < 0 || toIdx < 0 {
		fromIdx, toIdx = snap.Selection.From, snap.Selection.To
		v.synced = true
	}

	v.from = Side{Code: list[fromIdx].Currency, Balance: list[fromIdx].Balance}
	v.to = Side{Code: list[toIdx].Currency, Balance: list[toIdx].Balance}
	v.rate = v.rates.Resolve(v.from.Code, v.to.Code)
}

// SelectPair picks the from/to accounts by currency code.
func (v *ExchangeView) SelectPair(from, to string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	fromIdx := domain.FindAccount(v.list.Data, from)
	toIdx := domain.FindAccount(v.list.Data, to)
	if fromIdx < 0 || toIdx < 0 {
		return errors.Errorf("no account for %s or %s", from, to)
	}
	v.from = Side{Code: v.list.Data[fromIdx].Currency, Balance: v.list.Data[fromIdx].Balance}
	v.to = Side{Code: v.list.Data[toIdx].Currency, Balance: v.list.Data[toIdx].Balance}
	v.rate = v.rates.Resolve(v.from.Code, v.to.Code)
	return nil
}

// SetAmount stores the sanitized form of in and returns it.
func (v *ExchangeView) SetAmount(in string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.amount = SanitizeAmount(in)
	return v.amount
}

func (v *ExchangeView) Amount() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ParseAmount(v.amount)
}

// Preview is the amount received at the current rate.
func (v *ExchangeView) Preview() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.preview()
}

// Swap exchanges the legs. A positive preview becomes the new amount.
func (v *ExchangeView) Swap() {
	v.mu.Lock()
	defer v.mu.Unlock()

	preview := v.preview()
	v.from, v.to = v.to, v.from
	v.rate = v.rates.Resolve(v.from.Code, v.to.Code)
	if preview.IsPositive() {
		v.amount = FormatAmount(preview, previewPlaces)
	}
	v.flipped = !v.flipped
}

func (v *ExchangeView) CanSubmit() bool {
	return v.session.CanSubmit(v.Amount())
}

// Submit sends the job shown on screen through the session.
func (v *ExchangeView) Submit(ctx context.Context) (domain.JobHandle, error) {
	v.mu.Lock()
	pair := domain.NewPair(v.from.Code, v.to.Code)
	amount := ParseAmount(v.amount)
	expected := v.preview()
	v.submitErr = ""
	v.mu.Unlock()

	handle, err := v.session.Submit(ctx, pair, amount, expected)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.submitErr = err.Error()
		return domain.JobHandle{}, err
	}
	return handle, nil
}

// State returns a copy of the current screen state.
func (v *ExchangeView) State() ExchangeState {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := ExchangeState{
		Accounts:  v.list,
		From:      v.from,
		To:        v.to,
		Amount:    v.amount,
		Rate:      v.rate,
		Preview:   v.preview(),
		Flipped:   v.flipped,
		CanSubmit: v.session.CanSubmit(ParseAmount(v.amount)),
		Session:   v.session.State(),
		SubmitErr: v.submitErr,
	}
	if h, ok := v.session.Handle(); ok {
		st.JobID = h.JobID
	}
	return st
}

func (v *ExchangeView) preview() decimal.Decimal {
	return rates.Convert(ParseAmount(v.amount), v.rate)
}
