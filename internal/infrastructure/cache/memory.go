package cache

import (
	"sync"
	"time"

	"github.com/recap-app/recap/internal/domain/entities"
)

// MeetingCache is a short-TTL in-memory cache for meeting reads. It only
// absorbs read pressure; the store bypasses it whenever a write for the same
// meeting is in flight.
type MeetingCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]*cacheItem
}

type cacheItem struct {
	meeting    *entities.Meeting
	expireTime time.Time
}

// NewMeetingCache creates a meeting cache with the given staleness window
func NewMeetingCache(ttl time.Duration) *MeetingCache {
	c := &MeetingCache{
		ttl:   ttl,
		items: make(map[string]*cacheItem),
	}

	// Cleanup goroutine to remove expired items
	go c.cleanupExpired()

	return c
}

// Set stores a meeting snapshot
func (c *MeetingCache) Set(key string, meeting *entities.Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		meeting:    meeting,
		expireTime: time.Now().Add(c.ttl),
	}
}

// Get retrieves a meeting snapshot (nil, false if missing or expired)
func (c *MeetingCache) Get(key string) (*entities.Meeting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}

	if time.Now().After(item.expireTime) {
		return nil, false
	}

	return item.meeting, true
}

// Delete removes a key
func (c *MeetingCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// cleanupExpired periodically removes expired items
func (c *MeetingCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.items {
			if now.After(item.expireTime) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}
