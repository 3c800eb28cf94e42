package tools

import "sync"

// Cache memoizes each user's current tool definition list so a turn does not
// recompute it from the store on every request. Staleness is harmless:
// execution re-resolves credentials regardless, a miss just costs one
// registry recomputation. Lifetime is the process; no eviction.
type Cache struct {
	mu     sync.RWMutex
	byUser map[string][]ToolDefinition
}

func NewCache() *Cache {
	return &Cache{byUser: make(map[string][]ToolDefinition)}
}

func (c *Cache) Get(userID string) ([]ToolDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs, ok := c.byUser[userID]
	return defs, ok
}

func (c *Cache) Set(userID string, defs []ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[userID] = defs
}
