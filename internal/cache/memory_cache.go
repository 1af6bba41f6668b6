package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"tengepos/backend/internal/domain"
)

// MemoryReportCache is a bounded in-process cache for single-node deployments
// without Redis. When the entry cap is hit the entry closest to expiry is
// evicted.
type MemoryReportCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]memoryEntry
}

type memoryEntry struct {
	value     *domain.PopularProductsReport
	expiresAt time.Time
}

func NewMemoryReportCache(maxEntries int) *MemoryReportCache {
	if maxEntries < 1 {
		maxEntries = 20
	}
	return &MemoryReportCache{
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry, maxEntries),
	}
}

func (c *MemoryReportCache) Get(_ context.Context, key string) (*domain.PopularProductsReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, key string, value *domain.PopularProductsReport, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictSoonestLocked()
	}
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryReportCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *MemoryReportCache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.expiresAt.Before(soonest) {
			victim = key
			soonest = entry.expiresAt
			first = false
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}
