package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the judge service needs from a cache backend.
type Cache interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl keeps the key forever.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error

	// DelIfEqual deletes key only while it holds value. Lock owners release with it.
	DelIfEqual(ctx context.Context, key, value string) (bool, error)

	Exists(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
