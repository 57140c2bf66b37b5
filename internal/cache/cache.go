package cache

import (
	"context"
	"time"
)

// Cache stores JSON-encoded values. Corrupt entries read as misses.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const keyPrefix = "voicelab:"

// Key namespaces k for the shared backends.
func Key(k string) string { return keyPrefix + k }
