// Package tui is the terminal front end: a home screen with balances and
// recent transactions, and an exchange screen that submits one conversion.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/services/settlement"
	"github.com/vadiminshakov/fxdesk/internal/views"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	danger    = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F6D"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1)

	mutedStyle   = lipgloss.NewStyle().Foreground(subtle)
	errorStyle   = lipgloss.NewStyle().Foreground(danger)
	balanceStyle = lipgloss.NewStyle().Bold(true).Foreground(special)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

const (
	balancePlaces = 2
	ratePlaces    = 4
	timeLayout    = "2006-01-02 15:04"
)

// RenderHome draws the home screen.
func RenderHome(st views.HomeState) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("FXDESK"))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("user " + st.UserID))
	b.WriteString("\n")

	b.WriteString(stepStyle.Render("ACCOUNTS"))
	b.WriteString("\n")
	switch st.Accounts.State {
	case views.Idle, views.Loading:
		b.WriteString(mutedStyle.Render("loading accounts..."))
	case views.Failed:
		b.WriteString(errorStyle.Render(st.Accounts.Err))
	case views.Empty:
		b.WriteString(mutedStyle.Render("no accounts"))
	default:
		if acc, ok := st.SelectedAccount(); ok {
			b.WriteString(balanceStyle.Render(views.Symbol(acc.Currency) + acc.Balance.StringFixed(balancePlaces) + " " + acc.Currency))
			b.WriteString("\n")
		}
		var rows []string
		for i, acc := range st.Accounts.Data {
			marker := "  "
			if i == st.Selected {
				marker = "> "
			}
			rows = append(rows, fmt.Sprintf("%s%-4s %s%s", marker, acc.Currency, views.Symbol(acc.Currency), acc.Balance.StringFixed(balancePlaces)))
		}
		b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	}
	b.WriteString("\n")

	b.WriteString(stepStyle.Render("RECENT TRANSACTIONS"))
	b.WriteString("\n")
	if status := st.TransactionsStatus(); status != "" {
		style := mutedStyle
		if st.Transactions.State == views.Failed {
			style = errorStyle
		}
		b.WriteString(style.Render(status))
		b.WriteString("\n")
		return b.String()
	}

	var rows []string
	for _, tx := range st.Transactions.Data {
		when := ""
		if !tx.CreatedAt.IsZero() {
			when = tx.CreatedAt.Local().Format(timeLayout)
		}
		rows = append(rows, fmt.Sprintf("%s -> %s  %s%s  %s  %s",
			tx.SourceCurrency, tx.TargetCurrency,
			views.Symbol(tx.SourceCurrency), tx.SourceAmount.StringFixed(balancePlaces),
			tx.Status, when))
	}
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")
	return b.String()
}

// RenderExchange draws the exchange screen.
func RenderExchange(st views.ExchangeState) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("EXCHANGE"))
	b.WriteString("\n")

	if st.Accounts.State == views.Failed {
		b.WriteString(errorStyle.Render(st.Accounts.Err))
		b.WriteString("\n")
	}

	from := fmt.Sprintf("From %s  balance %s%s\nYou send    %s%s",
		st.From.Code, st.From.Symbol(), st.From.Balance.StringFixed(balancePlaces),
		st.From.Symbol(), displayAmount(st.Amount))
	to := fmt.Sprintf("To   %s  balance %s%s\nYou receive %s%s",
		st.To.Code, st.To.Symbol(), st.To.Balance.StringFixed(balancePlaces),
		st.To.Symbol(), st.Preview.StringFixed(balancePlaces))
	b.WriteString(boxStyle.Render(from))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(to))
	b.WriteString("\n")

	b.WriteString(mutedStyle.Render(RateBanner(st)))
	b.WriteString("\n")

	if st.JobID != "" {
		b.WriteString(stepStyle.Render("job " + st.JobID + " submitted"))
		b.WriteString("\n")
	}
	if st.SubmitErr != "" {
		b.WriteString(errorStyle.Render(st.SubmitErr))
		b.WriteString("\n")
	}
	return b.String()
}

// RateBanner is the one-line rate shown under the exchange form.
func RateBanner(st views.ExchangeState) string {
	return fmt.Sprintf("1 %s = %s %s", st.From.Code, st.Rate.StringFixed(ratePlaces), st.To.Code)
}

// RenderOutcome describes how a submitted job settled.
func RenderOutcome(out settlement.Outcome, err error) string {
	switch out.Status {
	case events.SettlementCompleted:
		msg := fmt.Sprintf("job %s completed: received %s%s", out.Job.JobID,
			views.Symbol(out.Job.TargetCurrency), out.Job.TargetAmount.StringFixed(balancePlaces))
		if !out.Reconciled {
			msg += "\n" + errorStyle.Render("differs from preview: "+out.Discrepancy)
		}
		return stepStyle.Render(msg)
	case events.SettlementFailed:
		return errorStyle.Render(fmt.Sprintf("job %s failed", out.Job.JobID))
	case events.SettlementTimedOut:
		return errorStyle.Render("job still processing, check recent transactions later")
	}
	if err != nil {
		return errorStyle.Render(err.Error())
	}
	return ""
}

func displayAmount(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
