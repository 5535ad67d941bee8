package main

import (
	"sync"
	"time"
)

// HistoryCache provides in-memory caching for history queries
type HistoryCache struct {
	mu      sync.RWMutex
	entries map[string]*HistoryCacheEntry
	ttl     time.Duration
}

// HistoryCacheEntry stores cached history data with metadata
type HistoryCacheEntry struct {
	Data        []HistoryPoint
	PingTargets []PingHistoryTarget
	UpdatedAt   time.Time
	Range       string
}

// Global cache instance
var historyCache *HistoryCache

// InitHistoryCache initializes the global history cache
func InitHistoryCache(ttl time.Duration) {
	historyCache = &HistoryCache{
		entries: make(map[string]*HistoryCacheEntry),
		ttl:     ttl,
	}
	// Start cleanup goroutine
	go historyCache.cleanupLoop()
}

// cacheKey generates a cache key for a server and range
func cacheKey(serverID, rangeStr string) string {
	return serverID + ":" + rangeStr
}

// Get retrieves cached data if available and not expired
func (c *HistoryCache) Get(serverID, rangeStr string) (*HistoryCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[cacheKey(serverID, rangeStr)]
	if !exists {
		return nil, false
	}
	if time.Since(entry.UpdatedAt) > c.ttl {
		return nil, false
	}
	return entry, true
}

// Set stores data in the cache
func (c *HistoryCache) Set(serverID, rangeStr string, data []HistoryPoint, pingTargets []PingHistoryTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(serverID, rangeStr)] = &HistoryCacheEntry{
		Data:        data,
		PingTargets: pingTargets,
		UpdatedAt:   time.Now(),
		Range:       rangeStr,
	}
}

// Invalidate removes a cache entry
func (c *HistoryCache) Invalidate(serverID, rangeStr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(serverID, rangeStr))
}

// InvalidateServer removes every cached range for a server
func (c *HistoryCache) InvalidateServer(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := serverID + ":"
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// cleanupLoop periodically removes expired entries
func (c *HistoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.entries {
			if now.Sub(entry.UpdatedAt) > c.ttl*2 {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
