package cache

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Backend is the interface cache implementations satisfy.
type Backend interface {
	// Get retrieves a value. Returns (value, found, error).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's resources.
	Close() error
}

// FromEnv selects a backend: Redis when REDIS_URL is set and reachable,
// otherwise in-process memory. A broken Redis URL degrades to memory
// rather than failing startup.
func FromEnv(prefix string) Backend {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		backend, err := NewRedisCache(redisURL, prefix)
		if err != nil {
			slog.Warn("cache: redis unavailable, using memory", "error", err)
		} else {
			slog.Info("cache: using redis backend")
			return backend
		}
	}
	return NewMemoryCache(10000, 2*time.Minute)
}
