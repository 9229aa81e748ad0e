package recon

import (
	"container/list"

	"github.com/maestro-ai/usage-engine/internal/transcript"
)

const defaultCacheCapacity = 256

// fileCache holds parsed transcript entries for the duration of one run so a
// file matched against many events is read once. Bounded LRU: the matcher
// re-parses on a miss, so eviction costs time, never correctness. The cache
// is discarded with the run and never shared across runs.
type fileCache struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type cacheItem struct {
	key     string
	entries []transcript.Entry
}

func newFileCache(capacity int) *fileCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &fileCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *fileCache) get(key string) ([]transcript.Entry, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).entries, true
}

func (c *fileCache) put(key string, entries []transcript.Entry) {
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheItem).entries = entries
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, entries: entries})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

func (c *fileCache) len() int { return c.order.Len() }
