// Package fdcache implements component C2: a bounded-by-idle-time cache
// of open handles (files or sockets) keyed by an opaque string, confined
// to a single owning goroutine -- spec.md §4.2/§5 requires it never be
// shared across consumers, so unlike the rest of this module it carries
// no internal locking at all.
//
// Grounded on skvoz/collection/server/cache.py's TimedFdCache.
package fdcache

import (
	"io"
	"time"

	"github.com/skvoz/skvoz-go/internal/stats"
)

var metricEvictions = stats.Counter("unit=Handle.direction=out.fdcache=evictions")

// Handle is anything the cache can own: *os.File and net.Conn both
// satisfy it.
type Handle interface {
	io.Closer
}

// Flusher is optionally implemented by a Handle to get an explicit
// flush before close, the way bufio.Writer does.
type Flusher interface {
	Flush() error
}

type entry struct {
	handle     Handle
	lastAccess time.Time
}

// Cache is a TimedFdCache: at most one live handle per key, closed
// entries are never returned, and idle entries are swept out whenever
// more than Timeout has elapsed since the last sweep.
type Cache struct {
	Timeout time.Duration
	Now     func() time.Time

	entries    map[string]entry
	lastSweep  time.Time
}

// New builds an empty cache with the given idle timeout.
func New(timeout time.Duration) *Cache {
	return &Cache{
		Timeout: timeout,
		Now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Opener constructs a fresh handle for key on a cache miss.
type Opener func(key string) (Handle, error)

// Open returns the cached handle for key, opening a new one via open
// if there is none. Every call also ticks the idle sweep if the
// timeout has elapsed since the last one.
func (c *Cache) Open(key string, open Opener) (Handle, error) {
	now := c.Now()

	e, ok := c.entries[key]
	if !ok {
		h, err := open(key)
		if err != nil {
			return nil, err
		}
		e = entry{handle: h}
	}
	e.lastAccess = now
	c.entries[key] = e

	if now.Sub(c.lastSweep) > c.Timeout {
		c.Flush()
	}

	return e.handle, nil
}

// Invalidate drops key from the cache without closing it -- used after
// a socket write fails, so the next Open reconnects instead of reusing
// a broken handle.
func (c *Cache) Invalidate(key string) {
	delete(c.entries, key)
}

// Flush closes and evicts every entry whose last access is older than
// Timeout, then stamps the sweep time.
func (c *Cache) Flush() {
	now := c.Now()
	for key, e := range c.entries {
		if now.Sub(e.lastAccess) > c.Timeout {
			closeHandle(e.handle)
			delete(c.entries, key)
			metricEvictions.Inc(1)
		}
	}
	c.lastSweep = now
}

// Close flushes and closes every handle, regardless of idle time, and
// empties the cache. Called once, on consumer shutdown.
func (c *Cache) Close() {
	for key, e := range c.entries {
		closeHandle(e.handle)
		delete(c.entries, key)
	}
}

func closeHandle(h Handle) {
	if f, ok := h.(Flusher); ok {
		_ = f.Flush()
	}
	_ = h.Close()
}
