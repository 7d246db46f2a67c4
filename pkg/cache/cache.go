// Package cache provides TTL caches for venue metadata.
package cache

import "time"

// Cache is a TTL key/value cache.
type Cache interface {
	// Get returns (value, true) if found, (nil, false) if not found or expired.
	Get(key string) (any, bool)

	Set(key string, value any, ttl time.Duration) bool

	Delete(key string)

	Clear()

	Close()
}
