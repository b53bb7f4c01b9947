package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lunebijoux/storefront/pkg/database"
	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
)

const keyPrefix = "cart:"

// CartRepository implements repository.CartRepository using Redis. Each
// cart is one JSON snapshot refreshed with the configured TTL on save.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cart by session ID from Redis.
func (r *CartRepository) Get(ctx context.Context, sessionID string) (c *cart.Cart, err error) {
	key := keyPrefix + sessionID
	ctx, end := database.TraceRedis(ctx, "GetCart", key)
	defer func() { end(err) }()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", sessionID)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	return cart.Restore(data)
}

// SaveIfVersion writes the snapshot inside a WATCH transaction so a writer
// holding a stale version loses instead of overwriting newer state. A
// missing key counts as version 0.
func (r *CartRepository) SaveIfVersion(ctx context.Context, c *cart.Cart, expectedVersion int) (ok bool, err error) {
	key := keyPrefix + c.SessionID
	ctx, end := database.TraceRedis(ctx, "SaveCart", key)
	defer func() { end(err) }()

	data, err := c.Snapshot()
	if err != nil {
		return false, err
	}

	stale := false
	txf := func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis save cart: %w", err)
	}
	return !stale, nil
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart version: %w", err)
	}
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("unmarshal cart version: %w", err)
	}
	return head.Version, nil
}

// Delete removes a cart from Redis by session ID.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) (err error) {
	key := keyPrefix + sessionID
	ctx, end := database.TraceRedis(ctx, "DeleteCart", key)
	defer func() { end(err) }()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}

	return nil
}
