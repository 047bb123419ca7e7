// Package session holds derived master keys for the lifetime of an
// authenticated session.
//
// The cache is the only place a master key lives between operations. Each
// installed key moves through a fixed lifecycle:
//
//	Empty -> Installed -> (Active | Expired) -> Cleared
//
// The transition to Expired is time-driven. Any Get after expiry forces
// the entry to Cleared, zeroes the key material, and returns ErrExpired so
// the caller must re-derive. Clear and Close zero key material explicitly.
// Entries are never serialized: the cache has no marshal methods and all
// state is unexported.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/interfaces"
)

// Handle is an opaque reference to an installed key. Callers pass the
// handle around instead of the key itself.
type Handle uint64

// Cache is a scoped, time-bounded in-memory holder of derived secrets.
// Exactly one Cache exists per authenticated session.
type Cache struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	next    Handle
	now     func() time.Time
	log     *slog.Logger
}

type entry struct {
	key       []byte
	expiresAt time.Time
}

// New creates an empty cache.
func New(log *slog.Logger) *Cache {
	return &Cache{
		entries: make(map[Handle]*entry),
		next:    1,
		now:     time.Now,
		log:     log,
	}
}

// withClock substitutes the time source. Tests only.
func (c *Cache) withClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Install copies the key into the cache with the given TTL and returns a
// handle for it. The caller keeps ownership of its own copy and should
// zero it when done; the cache owns and eventually zeroes the copy. A
// non-positive TTL means the key lives until Clear or Close.
func (c *Cache) Install(key []byte, ttl time.Duration) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{key: append([]byte(nil), key...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	h := c.next
	c.next++
	c.entries[h] = e

	if c.log != nil {
		c.log.Debug("Installed session key", slog.Uint64("handle", uint64(h)))
	}
	return h
}

// Get returns the key for a handle. The returned slice is borrowed: it
// stays valid until Clear, expiry or Close, and callers must not retain
// it beyond the current operation. After expiry the entry is zeroed,
// removed, and ErrExpired is returned.
func (c *Cache) Get(h Handle) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: no session key for handle", interfaces.ErrExpired)
	}

	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.clearLocked(h, e)
		return nil, fmt.Errorf("%w: session key", interfaces.ErrExpired)
	}

	return e.key, nil
}

// Clear zeroes and removes the key for a handle. Clearing an unknown
// handle is a no-op.
func (c *Cache) Clear(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[h]; ok {
		c.clearLocked(h, e)
	}
}

// Close zeroes every entry. Call on session teardown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for h, e := range c.entries {
		c.clearLocked(h, e)
	}
}

func (c *Cache) clearLocked(h Handle, e *entry) {
	cryptoutils.Zero(e.key)
	e.key = nil
	delete(c.entries, h)

	if c.log != nil {
		c.log.Debug("Cleared session key", slog.Uint64("handle", uint64(h)))
	}
}
