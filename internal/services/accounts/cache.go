// Package accounts keeps the latest account set of the client in memory.
package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
)

// ErrSuperseded is returned by a Refresh that was overtaken by a newer one
// whose result cannot stand in for it.
var ErrSuperseded = errors.New("refresh superseded by a newer one")

const (
	DefaultHomeCurrency      = "USD"
	DefaultSecondaryCurrency = "EUR"
)

// Fetcher loads the account set of a user.
type Fetcher interface {
	FetchAccounts(ctx context.Context, userID string) (domain.AccountsResponse, error)
}

// SnapshotStore persists applied snapshots.
type SnapshotStore interface {
	Save(snapshot domain.BalanceSnapshot) error
}

// Snapshot is one applied account set. Accounts is never mutated after publication.
type Snapshot struct {
	UserID     string
	Accounts   []domain.Account
	Selection  domain.Selection
	FetchedAt  time.Time
	Generation uint64
}

// From returns the default source account.
func (s Snapshot) From() (domain.Account, bool) {
	return s.at(s.Selection.From)
}

// To returns the default target account.
func (s Snapshot) To() (domain.Account, bool) {
	return s.at(s.Selection.To)
}

// Loaded reports whether the snapshot came from a successful refresh.
func (s Snapshot) Loaded() bool {
	return s.Generation > 0
}

func (s Snapshot) at(i int) (domain.Account, bool) {
	if i < 0 || i >= len(s.Accounts) {
		return domain.Account{}, false
	}
	return s.Accounts[i], true
}

// Cache holds the account set of the last successful refresh.
type Cache struct {
	fetcher   Fetcher
	home      string
	secondary string
	store     SnapshotStore
	balances  *events.Broadcaster[domain.BalanceSnapshot]
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	current  Snapshot
	latest   uint64 // generation of the most recently started refresh
	flight   *flight
	cancelFn context.CancelFunc
}

// flight is one started refresh; done is closed once its fields are final.
type flight struct {
	userID     string
	done       chan struct{}
	superseded bool
	snap       Snapshot
	err        error
}

type Option func(*Cache)

// WithPreferredCurrencies sets the currencies preferred for the default from/to accounts.
func WithPreferredCurrencies(home, secondary string) Option {
	return func(c *Cache) {
		c.home = domain.NormalizeCode(home)
		c.secondary = domain.NormalizeCode(secondary)
	}
}

// WithStore appends every applied snapshot to store.
func WithStore(store SnapshotStore) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithBroadcaster publishes every applied snapshot.
func WithBroadcaster(b *events.Broadcaster[domain.BalanceSnapshot]) Option {
	return func(c *Cache) {
		c.balances = b
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

func NewCache(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:   fetcher,
		home:      DefaultHomeCurrency,
		secondary: DefaultSecondaryCurrency,
		logger:    zap.NewNop(),
		now:       time.Now,
		current:   Snapshot{Selection: domain.Selection{From: -1, To: -1}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh fetches the account set of userID and, unless a newer refresh
// started meanwhile, replaces the cached one. The previous in-flight refresh
// is cancelled and its caller receives the outcome of the newer one instead,
// so every caller ends with a settled result. ErrSuperseded is returned only
// when the newer refresh is for another user or ctx ends while waiting.
func (c *Cache) Refresh(ctx context.Context, userID string) (Snapshot, error) {
	c.mu.Lock()
	if c.cancelFn != nil {
		c.cancelFn()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelFn = cancel
	c.latest++
	gen := c.latest
	own := &flight{userID: userID, done: make(chan struct{})}
	c.flight = own
	c.mu.Unlock()
	defer cancel()

	resp, err := c.fetcher.FetchAccounts(fetchCtx, userID)

	c.mu.Lock()
	if gen != c.latest {
		own.superseded = true
		close(own.done)
		c.mu.Unlock()
		return c.join(ctx, userID)
	}
	if err != nil {
		own.err = errors.Wrap(err, "refresh accounts")
		close(own.done)
		c.mu.Unlock()
		return Snapshot{}, own.err
	}

	accounts := make([]domain.Account, len(resp.Accounts))
	copy(accounts, resp.Accounts)

	snap := Snapshot{
		UserID:     userID,
		Accounts:   accounts,
		Selection:  domain.SelectDefaults(accounts, c.home, c.secondary),
		FetchedAt:  c.now().UTC(),
		Generation: gen,
	}
	c.current = snap
	own.snap = snap
	close(own.done)
	c.mu.Unlock()

	c.publish(snap)

	return snap, nil
}

// join waits for the latest refresh that is not itself superseded.
func (c *Cache) join(ctx context.Context, userID string) (Snapshot, error) {
	for {
		c.mu.RLock()
		fl := c.flight
		c.mu.RUnlock()

		if fl.userID != userID {
			return Snapshot{}, ErrSuperseded
		}
		select {
		case <-fl.done:
		case <-ctx.Done():
			return Snapshot{}, ErrSuperseded
		}
		if !fl.superseded {
			return fl.snap, fl.err
		}
	}
}

// Snapshot returns the current snapshot; the zero snapshot before the first load.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) publish(snap Snapshot) {
	if c.store == nil && c.balances == nil {
		return
	}

	bs := domain.NewBalanceSnapshot(snap.FetchedAt, snap.UserID, snap.Accounts, snap.Selection)
	if c.store != nil {
		if err := c.store.Save(bs); err != nil {
			c.logger.Warn("failed to persist balance snapshot", zap.String("user_id", snap.UserID), zap.Error(err))
		}
	}
	if c.balances != nil {
		c.balances.Publish(bs)
	}
}
