package domain

import "github.com/shopspring/decimal"

// Account balance of a client in one currency.
type Account struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// AccountsResponse is the body of the remote balances endpoint.
type AccountsResponse struct {
	UserID   string    `json:"user_id"`
	Accounts []Account `json:"accounts"`
}

// Selection holds indexes of the default "from" and "to" accounts.
// Both are -1 when there are no accounts.
type Selection struct {
	From int
	To   int
}

// SelectDefaults picks the default from/to accounts.
//
// From is the home currency if present, otherwise the first account.
// To is the secondary currency if it differs from From, otherwise the first
// account in another currency, otherwise the second account, otherwise the
// same account as From. The result depends only on the arguments.
func SelectDefaults(accounts []Account, home, secondary string) Selection {
	if len(accounts) == 0 {
		return Selection{From: -1, To: -1}
	}

	from := FindAccount(accounts, home)
	if from < 0 {
		from = 0
	}
	fromCurrency := accounts[from].Currency

	to := -1
	if NormalizeCode(secondary) != fromCurrency {
		to = FindAccount(accounts, secondary)
	}
	if to < 0 {
		for i, a := range accounts {
			if a.Currency != fromCurrency {
				to = i
				break
			}
		}
	}
	if to < 0 {
		if len(accounts) > 1 {
			to = 1
		} else {
			to = from
		}
	}

	return Selection{From: from, To: to}
}

// FindAccount returns the index of the account in currency, or -1.
func FindAccount(accounts []Account, currency string) int {
	code := NormalizeCode(currency)
	if code == "" {
		return -1
	}
	for i, a := range accounts {
		if a.Currency == code {
			return i
		}
	}
	return -1
}
