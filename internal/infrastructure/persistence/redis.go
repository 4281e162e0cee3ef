package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/your-org/storefront-cart/internal/domain/cart"
)

const redisOpTimeout = 3 * time.Second

// Redis keeps a server-side guest session's cart under
// cart:session:<sessionID>:<key>, refreshing the TTL on every write
type Redis struct {
	client    *redis.Client
	sessionID string
	ttl       time.Duration
}

// NewRedis binds a guest session to Redis
func NewRedis(client *redis.Client, sessionID string, ttl time.Duration) *Redis {
	return &Redis{client: client, sessionID: sessionID, ttl: ttl}
}

func (r *Redis) redisKey(key string) string {
	return fmt.Sprintf("cart:session:%s:%s", r.sessionID, key)
}

// Read implements cart.Persistence
func (r *Redis) Read(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrNotPersisted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve guest cart: %w", err)
	}
	return data, nil
}

// Write implements cart.Persistence
func (r *Redis) Write(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save guest cart: %w", err)
	}
	return nil
}
