package ports

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is absent or has expired
var ErrKeyNotFound = errors.New("key not found")

// Store is the key-value collaborator holding nonces and OTP state.
// Expiry is enforced by the store itself; implementations must not rely on a
// sweeper run by the caller. Any failure other than ErrKeyNotFound wraps
// core.ErrInfrastructureUnavailable.
type Store interface {
	// Put sets key to value with the given time to live (SETEX)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Take atomically reads and deletes key (GETDEL)
	Take(ctx context.Context, key string) (string, error)
	Get(ctx context.Context, key string) (string, error)
	// Incr increments a counter, creating it with ttl when absent
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
