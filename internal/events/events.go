// Package events carries in-process notifications between the services and
// the front ends.
package events

import (
	"time"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// RefreshReason why a reload of the home data was requested.
type RefreshReason string

const (
	ReasonStartup    RefreshReason = "startup"
	ReasonJobSettled RefreshReason = "job_settled"
	ReasonManual     RefreshReason = "manual"
)

// RefreshRequested asks listeners to reload accounts and history of UserID.
type RefreshRequested struct {
	UserID string
	Reason RefreshReason
	At     time.Time
}

// SettlementStatus final outcome of polling a job.
type SettlementStatus string

const (
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
	SettlementTimedOut  SettlementStatus = "timed_out"
)

// JobSettled is published once polling of a job has finished, whatever the outcome.
type JobSettled struct {
	Job     domain.ConversionJob
	UserID  string
	Outcome SettlementStatus
	// Discrepancy is non-empty when the settled amount differs from the preview.
	Discrepancy string
}

// Bus bundles the broadcasters shared by the application.
type Bus struct {
	Refresh  *Broadcaster[RefreshRequested]
	Settled  *Broadcaster[JobSettled]
	Balances *Broadcaster[domain.BalanceSnapshot]
}

// NewBus creates a bus with buffer slots per subscriber on every topic.
func NewBus(buffer int) *Bus {
	return &Bus{
		Refresh:  NewBroadcaster[RefreshRequested](buffer),
		Settled:  NewBroadcaster[JobSettled](buffer),
		Balances: NewBroadcaster[domain.BalanceSnapshot](buffer),
	}
}
