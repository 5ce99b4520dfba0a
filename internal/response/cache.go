package response

import (
	"context"
	"sync"

	"github.com/DmitriStark/MyAI/internal/store"
)

// DefaultCache is a read-through cache over the default_responses
// table. Writes to defaults must call Invalidate so the next read
// reloads; the generator owns exactly one instance per process.
type DefaultCache struct {
	store *store.Store

	mu     sync.Mutex
	loaded bool
	rows   []store.DefaultResponseRecord
}

func NewDefaultCache(st *store.Store) *DefaultCache {
	return &DefaultCache{store: st}
}

func (c *DefaultCache) Get(ctx context.Context) ([]store.DefaultResponseRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.rows, nil
	}
	rows, err := c.store.ListDefaultResponses(ctx)
	if err != nil {
		return nil, err
	}
	c.rows = rows
	c.loaded = true
	return rows, nil
}

func (c *DefaultCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.rows = nil
	c.mu.Unlock()
}
