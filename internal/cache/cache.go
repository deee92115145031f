package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a byte-oriented key/value store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key matching pattern. Only a trailing "*" wildcard is portable.
	Clear(ctx context.Context, pattern string) error

	// Version returns the counter stored at key, or 0 when it was never bumped.
	// Counters live apart from entries: Clear and Delete leave them alone and they never expire.
	Version(ctx context.Context, key string) (int64, error)
	// Bump increments the counter at key and returns the new value.
	Bump(ctx context.Context, key string) (int64, error)
	// SetIfVersions stores value only while every counter in guards still holds the
	// value given for it. It reports whether the write happened.
	SetIfVersions(ctx context.Context, key string, value []byte, ttl time.Duration, guards map[string]int64) (bool, error)

	Close() error
}
