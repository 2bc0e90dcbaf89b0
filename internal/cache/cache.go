package cache

import (
	"sync"
	"time"
)

const DefaultExpiry = 300 * time.Second

type entry[V any] struct {
	value V
	setAt time.Time
}

// Cache is a time-based expiring key-value store. Reads never check
// expiry; eviction happens only on the janitor's sweep, so a value can
// outlive its expiry by up to one sweep interval. There is no size
// bound.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	expiry  time.Duration
	done    chan struct{}
	once    sync.Once
}

// New starts a cache whose janitor sweeps once per second.
func New[V any](expiry time.Duration) *Cache[V] {
	return NewWithInterval[V](expiry, time.Second)
}

func NewWithInterval[V any](expiry, sweepInterval time.Duration) *Cache[V] {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		expiry:  expiry,
		done:    make(chan struct{}),
	}
	go c.janitor(sweepInterval)
	return c
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, setAt: time.Now()}
	c.mu.Unlock()
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.evict(now)
		}
	}
}

func (c *Cache[V]) evict(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.entries {
		if now.Sub(item.setAt) > c.expiry {
			delete(c.entries, key)
		}
	}
}
