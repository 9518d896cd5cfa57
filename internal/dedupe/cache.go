// ABOUTME: Thread-safe expiring set of Matrix event IDs
// ABOUTME: Lets the bridge drop events the homeserver delivers more than once

package dedupe

import (
	"sync"
	"time"
)

type marked struct {
	key string
	at  time.Time
}

// Cache remembers keys for a fixed window. Keys are kept in arrival order,
// so expiry and capacity eviction both pop from the front of the queue.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	queue   []marked
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache that forgets keys after ttl and holds at most maxSize.
// A background goroutine sweeps expired keys every sweepEvery; pass zero to
// rely on the sweep done by each Seen call.
func New(ttl time.Duration, maxSize int, sweepEvery time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.sweepLoop(sweepEvery)
	}
	return c
}

// Seen reports whether key was recorded within the window, recording it when
// it was not. Concurrent callers with the same new key see exactly one false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if _, ok := c.seen[key]; ok {
		return true
	}

	c.seen[key] = now
	c.queue = append(c.queue, marked{key: key, at: now})
	for len(c.seen) > c.maxSize {
		c.popLocked()
	}
	return false
}

// Len returns the number of remembered keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Sweep drops every expired key.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(c.now())
}

func (c *Cache) expireLocked(now time.Time) {
	for len(c.queue) > 0 && now.Sub(c.queue[0].at) >= c.ttl {
		c.popLocked()
	}
	// Release the backing array once it has drained.
	if len(c.queue) == 0 {
		c.queue = nil
	}
}

func (c *Cache) popLocked() {
	head := c.queue[0]
	c.queue = c.queue[1:]
	if at, ok := c.seen[head.key]; ok && at.Equal(head.at) {
		delete(c.seen, head.key)
	}
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
