// ABOUTME: Tests for the dedupe cache used for request-id and fetch caching.
// ABOUTME: Validates TTL expiration, size limits, value storage, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Check_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Check("never-seen-key"))
}

func TestCache_Check_Seen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("my-key")

	assert.True(t, cache.Check("my-key"))
}

func TestCache_Check_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-key")
	assert.True(t, cache.Check("expiring-key"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Check("expiring-key"))
}

func TestCache_CheckAndMark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// First call marks, second detects the duplicate
	assert.False(t, cache.CheckAndMark("req-1"))
	assert.True(t, cache.CheckAndMark("req-1"))
	assert.False(t, cache.CheckAndMark("req-2"))
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("key-1")
	cache.Mark("key-2")
	cache.Mark("key-3")
	cache.Mark("key-4") // evicts key-1

	assert.False(t, cache.Check("key-1"))
	assert.True(t, cache.Check("key-2"))
	assert.True(t, cache.Check("key-4"))
}

func TestCache_MarkRefreshesOrder(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Mark("key-1")
	cache.Mark("key-2")
	cache.Mark("key-1") // moves key-1 to back
	cache.Mark("key-3") // evicts key-2, the oldest

	assert.True(t, cache.Check("key-1"))
	assert.False(t, cache.Check("key-2"))
	assert.True(t, cache.Check("key-3"))
}

func TestCache_PutGet(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Put("url", "simplified markdown")

	v, ok := cache.Get("url")
	assert.True(t, ok)
	assert.Equal(t, "simplified markdown", v)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestCache_Get_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("url", "content")
	time.Sleep(20 * time.Millisecond)

	_, ok := cache.Get("url")
	assert.False(t, ok)
}

func TestCache_Get_MarkedWithoutValue(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("req-1")

	// Seen but carries no value
	assert.True(t, cache.Check("req-1"))
	_, ok := cache.Get("req-1")
	assert.False(t, ok)
}

func TestCache_Concurrency(t *testing.T) {
	cache := New(time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				cache.CheckAndMark(key)
				cache.Put(key, j)
				cache.Get(key)
				cache.Check(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close() // must not panic
}
