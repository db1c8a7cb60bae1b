package cache

import (
	"sync"
	"time"
)

// entry is a cached value with its expiration.
type entry[V any] struct {
	value      V
	expiration time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// MemoryCache is an in-memory map whose entries expire after a fixed TTL.
// A background goroutine sweeps expired entries until Close is called.
type MemoryCache[V any] struct {
	items map[string]*entry[V]
	mutex sync.RWMutex
	ttl   time.Duration
	now   func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a cache whose entries live for ttl and are swept
// every interval.
func NewMemoryCache[V any](ttl, interval time.Duration) *MemoryCache[V] {
	c := &MemoryCache[V]{
		items: make(map[string]*entry[V]),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go c.cleanupExpired(interval)

	return c
}

// Set stores a value, replacing any previous one and resetting its TTL.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &entry[V]{
		value:      value,
		expiration: c.now().Add(c.ttl),
	}
}

// Get retrieves a live value.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, exists := c.items[key]
	if !exists || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrSet returns the live value for key, storing create() first if there
// is none. Each access extends the entry's TTL.
func (c *MemoryCache[V]) GetOrSet(key string, create func() V) V {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	e, exists := c.items[key]
	if !exists || e.expired(now) {
		e = &entry[V]{value: create()}
		c.items[key] = e
	}
	e.expiration = now.Add(c.ttl)
	return e.value
}

// Delete removes a value.
func (c *MemoryCache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// DeleteFunc removes every value for which match returns true.
func (c *MemoryCache[V]) DeleteFunc(match func(key string, value V) bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, e := range c.items {
		if match(key, e.value) {
			delete(c.items, key)
		}
	}
}

// Size returns the number of entries, expired ones included until swept.
func (c *MemoryCache[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the sweeper.
func (c *MemoryCache[V]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache[V]) sweep() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, e := range c.items {
		if e.expired(now) {
			delete(c.items, key)
		}
	}
}

func (c *MemoryCache[V]) cleanupExpired(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}
