package domain

import "time"

// BalanceSnapshot account set of a client as returned by one refresh.
type BalanceSnapshot struct {
	Timestamp time.Time `json:"ts"`
	UserID    string    `json:"user_id"`
	Accounts  []Account `json:"accounts"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
}

// NewBalanceSnapshot creates a snapshot with from/to codes taken from sel.
func NewBalanceSnapshot(timestamp time.Time, userID string, accounts []Account, sel Selection) BalanceSnapshot {
	s := BalanceSnapshot{
		Timestamp: timestamp,
		UserID:    userID,
		Accounts:  accounts,
	}
	if sel.From >= 0 && sel.From < len(accounts) {
		s.From = accounts[sel.From].Currency
	}
	if sel.To >= 0 && sel.To < len(accounts) {
		s.To = accounts[sel.To].Currency
	}
	return s
}

// BalanceSnapshotRecord bundles a snapshot with the log index it originated from.
type BalanceSnapshotRecord struct {
	Index    uint64
	Snapshot BalanceSnapshot
}
