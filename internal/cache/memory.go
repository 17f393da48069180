package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache implements Backend with a sync.Map and TTL expiry.
type MemoryCache struct {
	data            sync.Map
	maxSize         int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache bounded to maxSize entries,
// sweeping expired entries every cleanupInterval.
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	mc := &MemoryCache{
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.data.Delete(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.data.Store(key, &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup drops expired entries, then evicts the oldest-expiring entries
// if the cache is still over its size bound.
func (m *MemoryCache) cleanup() {
	now := time.Now()
	type keyed struct {
		key       string
		expiresAt time.Time
	}
	var live []keyed

	m.data.Range(func(key, val interface{}) bool {
		entry := val.(*memoryEntry)
		if now.After(entry.expiresAt) {
			m.data.Delete(key)
		} else {
			live = append(live, keyed{key.(string), entry.expiresAt})
		}
		return true
	})

	if len(live) <= m.maxSize {
		return
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].expiresAt.Before(live[j].expiresAt)
	})
	for _, entry := range live[:len(live)-m.maxSize] {
		m.data.Delete(entry.key)
	}
}
