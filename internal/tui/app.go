package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/exchange"
	"github.com/vadiminshakov/fxdesk/internal/services/settlement"
	"github.com/vadiminshakov/fxdesk/internal/views"
)

// Settler waits for a submitted job to reach a terminal state.
type Settler interface {
	Settle(ctx context.Context, handle domain.JobHandle) (settlement.Outcome, error)
}

const (
	actionExchange = "exchange"
	actionAccount  = "account"
	actionRefresh  = "refresh"
	actionQuit     = "quit"

	stepSubmit = "submit"
	stepSwap   = "swap"
	stepEdit   = "edit"
	stepBack   = "back"
)

// App drives the terminal screens.
type App struct {
	home      *views.HomeView
	accounts  views.AccountsSource
	resolver  views.RateSource
	submitter *exchange.Submitter
	settler   Settler
	userID    string
	logger    *zap.Logger
}

func NewApp(home *views.HomeView, source views.AccountsSource, resolver views.RateSource,
	submitter *exchange.Submitter, settler Settler, userID string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		home:      home,
		accounts:  source,
		resolver:  resolver,
		submitter: submitter,
		settler:   settler,
		userID:    userID,
		logger:    logger,
	}
}

// Run shows the home screen until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.home.Load(ctx); err != nil {
		a.logger.Warn("initial load", zap.Error(err))
	}

	for {
		clearScreen()
		fmt.Println(RenderHome(a.home.State()))

		var action string
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("What next?").
					Options(
						huh.NewOption("Exchange currency", actionExchange),
						huh.NewOption("Show another account", actionAccount),
						huh.NewOption("Refresh", actionRefresh),
						huh.NewOption("Quit", actionQuit),
					).
					Value(&action),
			),
		).RunWithContext(ctx)
		if err != nil {
			return quitErr(err)
		}

		switch action {
		case actionExchange:
			if err := a.runExchange(ctx); err != nil {
				return quitErr(err)
			}
			// the settled event reloads the home view in the background,
			// an explicit load covers cancelled or failed submissions
			_ = a.home.Load(ctx)
		case actionAccount:
			if err := a.pickAccount(ctx); err != nil {
				return quitErr(err)
			}
		case actionRefresh:
			_ = a.home.Load(ctx)
		case actionQuit:
			return nil
		}
	}
}

func (a *App) pickAccount(ctx context.Context) error {
	st := a.home.State()
	if len(st.Accounts.Data) == 0 {
		return nil
	}
	idx := st.Selected
	options := make([]huh.Option[int], 0, len(st.Accounts.Data))
	for i, acc := range st.Accounts.Data {
		options = append(options, huh.NewOption(acc.Currency, i))
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().Title("Account").Options(options...).Value(&idx),
		),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}
	return a.home.Select(idx)
}

// runExchange is one visit of the exchange screen. Every visit gets its own
// session, so leaving and coming back allows a new job.
func (a *App) runExchange(ctx context.Context) error {
	view := views.NewExchangeView(a.accounts, a.resolver, exchange.NewSession(a.submitter, a.userID))
	if err := view.Load(ctx); err != nil {
		a.logger.Warn("exchange load", zap.Error(err))
	}
	if err := a.editExchange(ctx, view); err != nil {
		return err
	}

	for {
		clearScreen()
		st := view.State()
		fmt.Println(RenderExchange(st))

		options := []huh.Option[string]{}
		if st.CanSubmit {
			options = append(options, huh.NewOption("Exchange now", stepSubmit))
		}
		options = append(options,
			huh.NewOption("Swap currencies", stepSwap),
			huh.NewOption("Change pair or amount", stepEdit),
			huh.NewOption("Back", stepBack),
		)

		var step string
		err := huh.NewForm(
			huh.NewGroup(huh.NewSelect[string]().Options(options...).Value(&step)),
		).RunWithContext(ctx)
		if err != nil {
			return err
		}

		switch step {
		case stepSubmit:
			done, err := a.submit(ctx, view)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case stepSwap:
			view.Swap()
		case stepEdit:
			if err := a.editExchange(ctx, view); err != nil {
				return err
			}
		case stepBack:
			return nil
		}
	}
}

func (a *App) editExchange(ctx context.Context, view *views.ExchangeView) error {
	st := view.State()
	if st.Accounts.State != views.Loaded {
		return nil
	}

	from, to := st.From.Code, st.To.Code
	amount := st.Amount
	options := make([]huh.Option[string], 0, len(st.Accounts.Data))
	for _, acc := range st.Accounts.Data {
		label := fmt.Sprintf("%s  %s%s", acc.Currency, views.Symbol(acc.Currency), acc.Balance.StringFixed(balancePlaces))
		options = append(options, huh.NewOption(label, acc.Currency))
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("From").Options(options...).Value(&from),
			huh.NewSelect[string]().Title("To").Options(options...).Value(&to),
			huh.NewInput().
				Title("Amount").
				Description("Digits and a single dot").
				Value(&amount).
				Validate(validateAmount),
		),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	if err := view.SelectPair(from, to); err != nil {
		return err
	}
	view.SetAmount(amount)
	return nil
}

// submit confirms, submits and waits for settlement. It reports whether the
// visit is over.
func (a *App) submit(ctx context.Context, view *views.ExchangeView) (bool, error) {
	st := view.State()
	confirm := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Send %s%s %s for %s%s %s?",
					st.From.Symbol(), st.Amount, st.From.Code,
					st.To.Symbol(), st.Preview.StringFixed(balancePlaces), st.To.Code)).
				Affirmative("Yes, exchange").
				Negative("No").
				Value(&confirm),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}
	if !confirm {
		return false, nil
	}

	handle, err := view.Submit(ctx)
	if err != nil {
		// shown by the next render
		a.logger.Warn("submit", zap.Error(err))
		return false, nil
	}

	fmt.Println(mutedStyle.Render("waiting for job " + handle.JobID + "..."))
	out, err := a.settler.Settle(ctx, handle)
	if errors.Is(err, context.Canceled) {
		return true, nil
	}
	fmt.Println(RenderOutcome(out, err))

	var ok bool
	_ = huh.NewForm(
		huh.NewGroup(huh.NewConfirm().Title("Back to home").Affirmative("OK").Negative("").Value(&ok)),
	).RunWithContext(ctx)
	return true, nil
}

func validateAmount(s string) error {
	if !views.ParseAmount(views.SanitizeAmount(s)).IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

// quitErr treats a user abort as a normal exit.
func quitErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}
