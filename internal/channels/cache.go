package channels

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

type cachedName struct {
	name    string
	found   bool
	expires time.Time
}

// nameCache is a bounded, expiring lookup cache for display names.
// Negative results are cached too so unknown ids are not refetched.
type nameCache struct {
	mu    sync.Mutex
	items *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func newNameCache(maxEntries int, ttl time.Duration) *nameCache {
	return &nameCache{
		items: lru.New(maxEntries),
		ttl:   ttl,
		now:   time.Now,
	}
}

// get returns the cached name, whether the id resolved, and whether the
// cache held a live entry at all.
func (c *nameCache) get(key string) (name string, found, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items.Get(key)
	if !ok {
		return "", false, false
	}
	entry := v.(cachedName)
	if c.now().After(entry.expires) {
		c.items.Remove(key)
		return "", false, false
	}
	return entry.name, entry.found, true
}

func (c *nameCache) put(key, name string, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Add(key, cachedName{name: name, found: found, expires: c.now().Add(c.ttl)})
}

// messageRef remembers who wrote a message and which thread it belongs to.
type messageRef struct {
	authorID   string
	threadRoot string
}

// messageIndex is a bounded map from message id to messageRef, used
// to resolve reply authors without an API round trip.
type messageIndex struct {
	mu    sync.Mutex
	items *lru.Cache
}

func newMessageIndex(maxEntries int) *messageIndex {
	return &messageIndex{items: lru.New(maxEntries)}
}

func (m *messageIndex) get(ts string) (messageRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(ts)
	if !ok {
		return messageRef{}, false
	}
	return v.(messageRef), true
}

func (m *messageIndex) put(ts string, ref messageRef) {
	if ts == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Add(ts, ref)
}
