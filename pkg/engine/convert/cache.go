package convert

import (
	"container/list"
	"sync"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
)

// transformCache is an LRU cache of compiled transforms, keyed by
// colorspace.CacheKey (§3 "Transform cache key"). It is process-local: each
// Buffer Converter instance owns one, never shared across workers (§4.3
// "Cache is process-local, not shared across workers").
type transformCache struct {
	mu       sync.Mutex
	adapter  *icc.Adapter
	capacity int
	order    *list.List // front = most recently used
	entries  map[colorspace.CacheKey]*list.Element
}

type cacheEntry struct {
	key    colorspace.CacheKey
	handle icc.TransformHandle
}

func newTransformCache(adapter *icc.Adapter, capacity int) *transformCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &transformCache{
		adapter:  adapter,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[colorspace.CacheKey]*list.Element),
	}
}

// getOrCreate returns the cached transform handle for key, compiling a new
// one via create if there is no hit. On capacity overflow the
// least-recently-used handle is closed through the adapter.
func (c *transformCache) getOrCreate(key colorspace.CacheKey, noCache bool, create func() (icc.TransformHandle, error)) (icc.TransformHandle, error) {
	c.mu.Lock()
	if !noCache {
		if el, ok := c.entries[key]; ok {
			c.order.MoveToFront(el)
			h := el.Value.(*cacheEntry).handle
			c.mu.Unlock()
			return h, nil
		}
	}
	c.mu.Unlock()

	h, err := create()
	if err != nil {
		return 0, err
	}

	if noCache {
		return h, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		// Lost the race against a concurrent compile for the same key;
		// keep the one already installed and close ours.
		c.order.MoveToFront(el)
		existing := el.Value.(*cacheEntry).handle
		if existing != h {
			_ = c.adapter.Close(h)
		}
		return existing, nil
	}

	el := c.order.PushFront(&cacheEntry{key: key, handle: h})
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*cacheEntry)
		c.order.Remove(back)
		delete(c.entries, evicted.key)
		_ = c.adapter.Close(evicted.handle)
	}

	return h, nil
}

// Close releases every transform the cache currently holds.
func (c *transformCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		_ = c.adapter.Close(el.Value.(*cacheEntry).handle)
	}
	c.order.Init()
	c.entries = make(map[colorspace.CacheKey]*list.Element)
}
