// Package quotecache stores remote rate quotes in Redis so several front-end
// processes share one quote per pair for its TTL.
package quotecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

const namespace = "fxdesk:quote"

type Cache struct {
	client redis.UniversalClient
}

// New connects to a single Redis node.
func New(addr, password string, db int) *Cache {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewFromClient wraps an existing client, single node or cluster.
func NewFromClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return errors.Wrap(c.client.Ping(ctx).Err(), "redis ping")
}

// Get returns the cached quote for pair. A miss is not an error.
func (c *Cache) Get(ctx context.Context, pair domain.Pair) (domain.Quote, bool, error) {
	raw, err := c.client.Get(ctx, key(pair)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Quote{}, false, nil
	}
	if err != nil {
		return domain.Quote{}, false, errors.Wrapf(err, "get quote %s", pair)
	}

	var q domain.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Quote{}, false, errors.Wrapf(err, "decode quote %s", pair)
	}
	return q, true, nil
}

// Set stores q for ttl.
func (c *Cache) Set(ctx context.Context, q domain.Quote, ttl time.Duration) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return errors.Wrap(err, "encode quote")
	}
	return errors.Wrapf(c.client.Set(ctx, key(q.Pair), raw, ttl).Err(), "set quote %s", q.Pair)
}

// Delete drops the cached quote of pair.
func (c *Cache) Delete(ctx context.Context, pair domain.Pair) error {
	return errors.Wrapf(c.client.Del(ctx, key(pair)).Err(), "delete quote %s", pair)
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func key(pair domain.Pair) string {
	return namespace + ":" + pair.String()
}
