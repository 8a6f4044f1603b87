package util

import (
	"context"
	"strconv"
	"sync"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	"golang.org/x/sync/singleflight"
)

// FilterCache keeps the distinct filter values of the current snapshot
// generation. Concurrent misses share one query.
type FilterCache struct {
	group singleflight.Group

	mu         sync.RWMutex
	valid      bool
	generation int64
	values     store.FilterValues
}

func (c *FilterCache) Get(ctx context.Context, reader store.SnapshotReader) (store.FilterValues, error) {
	info, err := reader.SnapshotInfo(ctx)
	if err != nil {
		return store.FilterValues{}, err
	}

	c.mu.RLock()
	if c.valid && c.generation == info.Generation {
		values := c.values
		c.mu.RUnlock()
		return values, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(strconv.FormatInt(info.Generation, 10), func() (any, error) {
		values, err := reader.FilterValues(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.valid = true
		c.generation = info.Generation
		c.values = values
		c.mu.Unlock()
		return values, nil
	})
	if err != nil {
		return store.FilterValues{}, err
	}
	return v.(store.FilterValues), nil
}
