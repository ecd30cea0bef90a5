// ABOUTME: Tests for the dedupe cache used to recognise duplicate replies.
// ABOUTME: Validates TTL expiration, size limits, eviction and concurrency safety.

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

	cache.Mark("req-1")

	assert.True(t, cache.Check("req-1"))
}

func TestCache_Check_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-key")
	assert.True(t, cache.Check("expiring-key"))

	time.Sleep(30 * time.Millisecond)

	assert.False(t, cache.Check("expiring-key"))
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("key-1")
	cache.Mark("key-2")
	cache.Mark("key-3")
	cache.Mark("key-4")

	assert.False(t, cache.Check("key-1"), "oldest key should be evicted")
	assert.True(t, cache.Check("key-4"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_MarkRefreshesTTL(t *testing.T) {
	cache := New(60*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("req-1")
	time.Sleep(40 * time.Millisecond)
	cache.Mark("req-1")
	time.Sleep(40 * time.Millisecond)

	assert.True(t, cache.Check("req-1"), "second mark restarts the TTL")
}

func TestCache_ConcurrentMarkAndCheck(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("req-%d", i)
			cache.Mark(key)
			assert.True(t, cache.Check(key))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, cache.Len())
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Mark("req-1")

	cache.Close()
	cache.Close()

	assert.False(t, cache.Check("req-1"))
}
