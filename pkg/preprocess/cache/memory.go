package cache

import (
	"context"
	"sync"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// InProcess is the default cache required by §4.1: entries are small (by
// reference) and live for the process lifetime unless Clear is called.
type InProcess struct {
	mu      sync.RWMutex
	entries map[string]*types.PreprocessedData
}

// NewInProcess returns an empty in-process cache.
func NewInProcess() *InProcess {
	return &InProcess{entries: make(map[string]*types.PreprocessedData)}
}

func (c *InProcess) Get(_ context.Context, key Key) (*types.PreprocessedData, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[key.String()]
	return data, ok, nil
}

func (c *InProcess) Set(_ context.Context, key Key, data *types.PreprocessedData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = data
	return nil
}

// Clear empties the cache, per §4.1's clearCache() contract.
func (c *InProcess) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*types.PreprocessedData)
	return nil
}
