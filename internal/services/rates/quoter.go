package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

var (
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrUnknownPair      = errors.New("unknown currency pair")
	ErrQuoteExpired     = errors.New("quote expired")
)

type QuoteErrorKind int

const (
	KindUnavailable QuoteErrorKind = iota
	KindUnknownPair
	KindExpired
)

func (k QuoteErrorKind) sentinel() error {
	switch k {
	case KindUnknownPair:
		return ErrUnknownPair
	case KindExpired:
		return ErrQuoteExpired
	default:
		return ErrQuoteUnavailable
	}
}

// QuoteError is returned by every Quoter.
type QuoteError struct {
	Kind QuoteErrorKind
	Pair domain.Pair
	Err  error
}

func (e *QuoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for %s: %v", e.Kind.sentinel(), e.Pair, e.Err)
	}
	return fmt.Sprintf("%s for %s", e.Kind.sentinel(), e.Pair)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error kind.
func (e *QuoteError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Quoter produces a quote for a currency pair.
type Quoter interface {
	Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error)
}

// StaticQuoter quotes from a Resolver table.
type StaticQuoter struct {
	resolver *Resolver
	now      func() time.Time
}

func NewStaticQuoter(resolver *Resolver) *StaticQuoter {
	return &StaticQuoter{resolver: resolver, now: time.Now}
}

func (q *StaticQuoter) Quote(_ context.Context, pair domain.Pair) (domain.Quote, error) {
	rate, ok := q.resolver.Lookup(pair)
	if !ok {
		return domain.Quote{}, &QuoteError{Kind: KindUnknownPair, Pair: pair}
	}
	fee := DefaultFeeBps
	if pair.Identity() {
		fee = 0
	}
	return domain.Quote{
		Pair:       pair,
		Rate:       rate,
		FeeBps:     fee,
		Provider:   staticProvider,
		ObtainedAt: q.now(),
	}, nil
}

// RateFetcher is the part of the gateway client used for quotes.
type RateFetcher interface {
	FetchRate(ctx context.Context, pair domain.Pair) (domain.Quote, error)
}

// QuoteStore caches quotes between processes.
type QuoteStore interface {
	Get(ctx context.Context, pair domain.Pair) (domain.Quote, bool, error)
	Set(ctx context.Context, q domain.Quote, ttl time.Duration) error
}

// GatewayQuoter asks the remote rate service and optionally caches the result.
type GatewayQuoter struct {
	fetcher RateFetcher
	store   QuoteStore
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

type GatewayQuoterOption func(*GatewayQuoter)

// WithQuoteStore fronts the remote service with store.
func WithQuoteStore(store QuoteStore) GatewayQuoterOption {
	return func(q *GatewayQuoter) {
		q.store = store
	}
}

// WithQuoteTTL sets how long a fetched quote stays valid when the remote gives no expiry.
func WithQuoteTTL(ttl time.Duration) GatewayQuoterOption {
	return func(q *GatewayQuoter) {
		q.ttl = ttl
	}
}

func WithQuoterLogger(l *zap.Logger) GatewayQuoterOption {
	return func(q *GatewayQuoter) {
		q.logger = l
	}
}

func withClock(now func() time.Time) GatewayQuoterOption {
	return func(q *GatewayQuoter) {
		q.now = now
	}
}

func NewGatewayQuoter(fetcher RateFetcher, opts ...GatewayQuoterOption) *GatewayQuoter {
	q := &GatewayQuoter{
		fetcher: fetcher,
		ttl:     30 * time.Second,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *GatewayQuoter) Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	if q.store != nil {
		cached, ok, err := q.store.Get(ctx, pair)
		if err != nil {
			q.logger.Warn("quote cache read failed", zap.String("pair", pair.String()), zap.Error(err))
		}
		if ok && !cached.Expired(q.now()) {
			return cached, nil
		}
	}

	quote, err := q.fetcher.FetchRate(ctx, pair)
	if err != nil {
		if clients.IsNotFound(err) {
			return domain.Quote{}, &QuoteError{Kind: KindUnknownPair, Pair: pair, Err: err}
		}
		return domain.Quote{}, &QuoteError{Kind: KindUnavailable, Pair: pair, Err: err}
	}

	now := q.now()
	if quote.ObtainedAt.IsZero() {
		quote.ObtainedAt = now
	}
	if quote.ExpiresAt.IsZero() && q.ttl > 0 {
		quote.ExpiresAt = quote.ObtainedAt.Add(q.ttl)
	}
	if quote.Expired(now) {
		return domain.Quote{}, &QuoteError{Kind: KindExpired, Pair: pair}
	}

	if q.store != nil {
		if err := q.store.Set(ctx, quote, quote.ExpiresAt.Sub(now)); err != nil {
			q.logger.Warn("quote cache write failed", zap.String("pair", pair.String()), zap.Error(err))
		}
	}

	return quote, nil
}

// FallbackQuoter uses the static table when the primary quoter is unavailable.
// Unknown pairs and expired quotes from the primary are returned as-is.
type FallbackQuoter struct {
	primary  Quoter
	fallback Quoter
	logger   *zap.Logger
}

func NewFallbackQuoter(primary, fallback Quoter, logger *zap.Logger) *FallbackQuoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackQuoter{primary: primary, fallback: fallback, logger: logger}
}

func (q *FallbackQuoter) Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	quote, err := q.primary.Quote(ctx, pair)
	if err == nil || !errors.Is(err, ErrQuoteUnavailable) {
		return quote, err
	}

	q.logger.Warn("primary quoter unavailable, using static rates", zap.String("pair", pair.String()), zap.Error(err))
	return q.fallback.Quote(ctx, pair)
}
