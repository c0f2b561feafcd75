package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/grafana/regexp"

	"lsproxy/work/logger"
)

// livePathPattern recognizes live-TV HLS request paths: the provider embeds
// credentials in a "/live/" segment and the resource is an M3U playlist.
// VOD and series URLs carry single-use tokens and must never be cached.
var livePathPattern = regexp.MustCompile(`/live/.*\.m3u8?$`)

// RedirectCache remembers recently observed redirect targets for hot
// live-HLS paths so back-to-back playlist refreshes skip a full
// redirect-detection round trip. Entries expire after a short TTL and are
// evicted lazily on the next lookup; nothing is ever persisted.
type RedirectCache struct {
	entries map[string]redirectEntry
	mu      sync.RWMutex
	ttl     time.Duration
}

// redirectEntry pairs a resolved redirect destination with the time it was
// observed, for TTL checks on lookup.
type redirectEntry struct {
	target     string    // absolute URL of the resolved redirect destination
	observedAt time.Time // when the redirect was seen
}

// NewRedirectCache creates a cache whose entries stay valid for ttl.
func NewRedirectCache(ttl time.Duration) *RedirectCache {
	return &RedirectCache{
		entries: make(map[string]redirectEntry),
		ttl:     ttl,
	}
}

// Cacheable reports whether a target path qualifies for redirect caching.
// Only live-TV HLS playlist paths qualify; everything else is treated as
// carrying single-use tokens.
func Cacheable(path string) bool {
	if !strings.Contains(path, "/live/") {
		return false
	}
	return livePathPattern.MatchString(path)
}

// Store records the resolved redirect target for a path. Callers are expected
// to have checked Cacheable first; Store enforces it anyway so a bad caller
// can never poison the cache with a VOD token.
func (c *RedirectCache) Store(path, target string) {
	if !Cacheable(path) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = redirectEntry{
		target:     target,
		observedAt: time.Now(),
	}
}

// Lookup returns the cached redirect target for a path if one exists and has
// not expired. Expired entries are deleted on the way out.
func (c *RedirectCache) Lookup(path string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Since(e.observedAt) > c.ttl {
		c.mu.Lock()
		// re-check under the write lock; a fresher entry may have landed
		if cur, still := c.entries[path]; still && time.Since(cur.observedAt) > c.ttl {
			delete(c.entries, path)
			logger.Debug("{cache - Lookup} Evicted expired redirect entry for path: %s", path)
		}
		c.mu.Unlock()
		return "", false
	}

	return e.target, true
}

// Len returns the number of entries currently held, expired or not.
func (c *RedirectCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops all entries. Used on proxy shutdown.
func (c *RedirectCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]redirectEntry)
}
