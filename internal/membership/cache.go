package membership

import (
	"fmt"
	"sort"
	"sync"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// Cache is the in-memory membership store shared by the population runs and request handlers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.TrackSet
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]models.TrackSet)}
}

// Has reports whether playlistID has been populated, empty or not.
func (c *Cache) Has(playlistID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[playlistID]
	return ok
}

// Get returns a copy of the entry for playlistID or [shared.ErrNotCached].
func (c *Cache) Get(playlistID string) (models.TrackSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.entries[playlistID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotCached, playlistID)
	}
	return set.Clone(), nil
}

// Set replaces the entry for playlistID. A nil set stores an empty entry.
func (c *Cache) Set(playlistID string, tracks models.TrackSet) {
	stored := tracks.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[playlistID] = stored
}

// Add inserts refs into an existing entry. It reports false and changes nothing when the key is absent.
func (c *Cache) Add(playlistID string, refs ...models.TrackRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.entries[playlistID]
	if !ok {
		return false
	}
	set.Add(refs...)
	return true
}

// Remove discards refs from an existing entry. It reports false and changes nothing when the key is absent.
func (c *Cache) Remove(playlistID string, refs ...models.TrackRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.entries[playlistID]
	if !ok {
		return false
	}
	set.Remove(refs...)
	return true
}

// Contains tests membership without copying. cached is false when the key is absent.
func (c *Cache) Contains(playlistID string, ref models.TrackRef) (contained, cached bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.entries[playlistID]
	if !ok {
		return false, false
	}
	return set.Has(ref), true
}

// Len returns the number of populated entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IDs returns the populated playlist ids in sorted order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
