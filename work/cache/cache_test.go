package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/live/u/p/1.m3u8", true},
		{"/live/u/p/1.m3u", true},
		{"/live/deep/nested/u/p/stream.m3u8", true},
		{"/movie/u/p/42.mp4", false},
		{"/series/u/p/7.mkv", false},
		{"/live/u/p/1.ts", false},
		{"/vod/u/p/1.m3u8", false},
		{"/", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Cacheable(tt.path), "path: %s", tt.path)
	}
}

func TestStoreAndLookup(t *testing.T) {
	c := NewRedirectCache(time.Second)

	c.Store("/live/u/p/1.m3u8", "http://edge7.example/token123/1.m3u8")

	target, ok := c.Lookup("/live/u/p/1.m3u8")
	require.True(t, ok)
	assert.Equal(t, "http://edge7.example/token123/1.m3u8", target)
}

func TestLookupMiss(t *testing.T) {
	c := NewRedirectCache(time.Second)

	_, ok := c.Lookup("/live/u/p/unknown.m3u8")
	assert.False(t, ok)
}

func TestStoreRejectsNonLivePaths(t *testing.T) {
	c := NewRedirectCache(time.Second)

	// VOD and series tokens are single-use; the cache must refuse them even
	// when a caller forgets to classify first
	c.Store("/movie/u/p/42.mp4", "http://edge.example/tok/42.mp4")
	c.Store("/series/u/p/7.mkv", "http://edge.example/tok/7.mkv")

	assert.Equal(t, 0, c.Len())
}

func TestExpiryIsLazy(t *testing.T) {
	c := NewRedirectCache(50 * time.Millisecond)

	c.Store("/live/u/p/1.m3u8", "http://edge7.example/token123/1.m3u8")
	require.Equal(t, 1, c.Len())

	time.Sleep(80 * time.Millisecond)

	// entry still present until the next lookup touches it
	assert.Equal(t, 1, c.Len())

	_, ok := c.Lookup("/live/u/p/1.m3u8")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestFreshEntryWithinTTL(t *testing.T) {
	c := NewRedirectCache(500 * time.Millisecond)

	c.Store("/live/u/p/1.m3u8", "http://edge7.example/token123/1.m3u8")
	time.Sleep(100 * time.Millisecond)

	target, ok := c.Lookup("/live/u/p/1.m3u8")
	require.True(t, ok)
	assert.Equal(t, "http://edge7.example/token123/1.m3u8", target)
}

func TestClear(t *testing.T) {
	c := NewRedirectCache(time.Second)
	c.Store("/live/u/p/1.m3u8", "http://edge7.example/a.m3u8")
	c.Store("/live/u/p/2.m3u8", "http://edge7.example/b.m3u8")

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
