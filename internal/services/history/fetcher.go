// Package history lists the recent conversion jobs of a client.
package history

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// DefaultLimit is used when the caller passes a non-positive limit.
const DefaultLimit = 10

// TransactionsFetcher is the part of the gateway client used for history.
type TransactionsFetcher interface {
	FetchTransactions(ctx context.Context, userID string, limit int) (domain.TransactionsResponse, error)
}

type Fetcher struct {
	client TransactionsFetcher
}

func NewFetcher(client TransactionsFetcher) *Fetcher {
	return &Fetcher{client: client}
}

// List returns at most limit jobs in the order the backend returned them.
// An empty result is a non-nil empty slice.
func (f *Fetcher) List(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	resp, err := f.client.FetchTransactions(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	if resp.Jobs == nil {
		return []domain.Transaction{}, nil
	}
	return resp.Jobs, nil
}
