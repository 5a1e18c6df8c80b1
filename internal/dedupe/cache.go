// ABOUTME: Remembers recently handled inbound message ids per session
// ABOUTME: Lets the gateway re-ack a retried message without running the turn twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when the configuration leaves them unset.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

// Key identifies one inbound client message.
type Key struct {
	SessionID string
	MessageID string
}

type entry struct {
	key  Key
	seen time.Time
}

// Cache is a TTL and size bounded set of Keys. The oldest key is evicted
// when full; expired keys are swept periodically and ignored on lookup.
type Cache struct {
	mu      sync.Mutex
	index   map[Key]*list.Element
	order   *list.List // *entry, least recently marked at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper. Non-positive arguments use the
// defaults.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		index:   make(map[Key]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(min(ttl, time.Minute))
	return c
}

// Seen reports whether messageID was already marked for sessionID within the
// TTL, and marks it if not. Empty message ids are never duplicates.
func (c *Cache) Seen(sessionID, messageID string) bool {
	if messageID == "" {
		return false
	}
	k := Key{SessionID: sessionID, MessageID: messageID}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[k]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return true
		}
		e.seen = now
		c.order.MoveToBack(el)
		return false
	}

	if len(c.index) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.index[k] = c.order.PushBack(&entry{key: k, seen: now})
	return false
}

// Unmark drops one key so a retry of a message whose turn failed runs again.
func (c *Cache) Unmark(sessionID, messageID string) {
	k := Key{SessionID: sessionID, MessageID: messageID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		c.order.Remove(el)
		delete(c.index, k)
	}
}

// Forget drops every key of sessionID.
func (c *Cache) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, el := range c.index {
		if k.SessionID == sessionID {
			c.order.Remove(el)
			delete(c.index, k)
		}
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired keys. Marks are in time order, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, e.key)
		el = next
	}
}
