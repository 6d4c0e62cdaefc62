// Package kvstore provides the key-value storage shared by the embedding,
// retrieval and response caches and by conversation memory.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is missing or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a string-keyed byte store with per-key expiry.
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Keys returns every live key matching a glob pattern (*, ?, [...]).
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}
