// ABOUTME: Tests for the routed-message-ID cache backing the hub's Route dedupe check.
// ABOUTME: Validates TTL expiration, size limits, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Check_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// A message ID that was never routed should return false
	assert.False(t, cache.Check("msg-never-routed"))
}

func TestCache_Check_Seen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Mark a message ID as routed
	cache.Mark("msg-1")

	// Check should report it as routed
	assert.True(t, cache.Check("msg-1"))
}

func TestCache_Check_Expired(t *testing.T) {
	// Use a very short TTL for testing
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	// Mark a message ID as routed
	cache.Mark("msg-expiring")

	// Should be seen as routed initially
	assert.True(t, cache.Check("msg-expiring"))

	// Wait for TTL to expire
	time.Sleep(20 * time.Millisecond)

	// Should no longer be seen as routed after TTL
	assert.False(t, cache.Check("msg-expiring"))
}

func TestCache_Mark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Mark multiple message IDs as routed
	cache.Mark("msg-1")
	cache.Mark("msg-2")
	cache.Mark("msg-3")

	// All should be recorded as routed
	assert.True(t, cache.Check("msg-1"))
	assert.True(t, cache.Check("msg-2"))
	assert.True(t, cache.Check("msg-3"))

	// An unrouted message ID should not be reported as routed
	assert.False(t, cache.Check("msg-4"))
}

func TestCache_Mark_UpdatesTimestamp(t *testing.T) {
	// Use a short TTL
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	// Mark a message ID as routed
	cache.Mark("msg-redelivered")

	// Wait partway through TTL
	time.Sleep(30 * time.Millisecond)

	// Re-mark, as a redelivery attempt of the same message would
	cache.Mark("msg-redelivered")

	// Wait another 30ms (would be past original TTL)
	time.Sleep(30 * time.Millisecond)

	// Should still read as routed because the timestamp was refreshed
	assert.True(t, cache.Check("msg-redelivered"))
}

func TestCache_Eviction(t *testing.T) {
	// Small cache for testing eviction under a capacity bound
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	// Fill the cache with routed message IDs
	cache.Mark("msg-1")
	time.Sleep(1 * time.Millisecond) // Ensure different timestamps
	cache.Mark("msg-2")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("msg-3")

	// All three should be present
	assert.True(t, cache.Check("msg-1"))
	assert.True(t, cache.Check("msg-2"))
	assert.True(t, cache.Check("msg-3"))

	// Route a fourth message - should evict the oldest entry (msg-1)
	time.Sleep(1 * time.Millisecond)
	cache.Mark("msg-4")

	// msg-1 should be evicted (oldest)
	assert.False(t, cache.Check("msg-1"), "oldest key should be evicted")

	// Other message IDs should remain
	assert.True(t, cache.Check("msg-2"))
	assert.True(t, cache.Check("msg-3"))
	assert.True(t, cache.Check("msg-4"))
}

func TestCache_Cleanup(t *testing.T) {
	// Create cache with very short TTL and cleanup interval
	// Note: cleanup runs every minute by default, so we test that expired entries
	// are correctly identified, not the actual cleanup goroutine timing
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	// Mark several message IDs as routed
	cache.Mark("msg-cleanup-1")
	cache.Mark("msg-cleanup-2")
	cache.Mark("msg-cleanup-3")

	// All should be recorded as routed
	assert.True(t, cache.Check("msg-cleanup-1"))
	assert.True(t, cache.Check("msg-cleanup-2"))
	assert.True(t, cache.Check("msg-cleanup-3"))

	// Wait for the TTL window to pass
	time.Sleep(20 * time.Millisecond)

	// All should read as no-longer-routed once expired
	assert.False(t, cache.Check("msg-cleanup-1"))
	assert.False(t, cache.Check("msg-cleanup-2"))
	assert.False(t, cache.Check("msg-cleanup-3"))

	// Confirm cleanup actually removes expired entries from the map
	// We'll trigger cleanup manually by calling the internal method
	cache.runCleanup()

	// Verify the map is empty after cleanup
	cache.mu.RLock()
	mapLen := len(cache.seen)
	cache.mu.RUnlock()
	assert.Equal(t, 0, mapLen, "cleanup should remove expired entries from map")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// Concurrent marks and checks from many simultaneous routing goroutines
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := "msg-" + string(rune('A'+id%26)) + "-" + string(rune('0'+j%10))
				cache.Mark(key)
				cache.Check(key)
			}
		}(i)
	}

	wg.Wait()

	// No panics or race conditions under concurrent routing - test passes if we get here
	// Also verify the cache is still functional afterward
	cache.Mark("msg-final")
	assert.True(t, cache.Check("msg-final"))
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Mark("msg-before-close")
	assert.True(t, cache.Check("msg-before-close"))

	// Close should not panic and should stop the background cleanup goroutine
	cache.Close()

	// Multiple closes should not panic
	cache.Close()
}

func TestCache_ConfiguredDefaults(t *testing.T) {
	// Test with the fabric's configured production dedupe-window values
	cache := New(5*time.Minute, 100_000)
	defer cache.Close()

	// Basic operations should work
	cache.Mark("msg-prod")
	assert.True(t, cache.Check("msg-prod"))
}

func TestCache_CheckAndMark_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// First CheckAndMark for a freshly routed message ID should return false (not a duplicate) and mark it
	result := cache.CheckAndMark("msg-new")
	assert.False(t, result, "first CheckAndMark should return false for a new message ID")

	// Key should now be marked
	assert.True(t, cache.Check("msg-new"), "message ID should be marked routed after CheckAndMark")
}

func TestCache_CheckAndMark_SeenKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Mark the key first
	cache.Mark("msg-existing")

	// CheckAndMark should return true (already seen)
	result := cache.CheckAndMark("msg-existing")
	assert.True(t, result, "CheckAndMark should return true for an already-routed message ID")
}

func TestCache_CheckAndMark_Expired(t *testing.T) {
	// Use a very short TTL for testing
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	// Mark via CheckAndMark
	result := cache.CheckAndMark("msg-expiring")
	assert.False(t, result, "first CheckAndMark should return false")

	// Should be seen immediately
	assert.True(t, cache.CheckAndMark("msg-expiring"), "should be seen as already routed before expiry")

	// Wait for TTL to expire
	time.Sleep(20 * time.Millisecond)

	// Should not be seen after expiry
	assert.False(t, cache.CheckAndMark("msg-expiring"), "should not be seen as routed after expiry")
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100

	// Count how many goroutines successfully "won" (got false)
	var successCount int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// All goroutines race to CheckAndMark the same message ID, as concurrent
	// retries of one send would
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			// Only the first goroutine through should see it as unrouted
			if !cache.CheckAndMark("msg-contested") {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Exactly one goroutine should have succeeded
	assert.Equal(t, int32(1), successCount,
		"exactly one goroutine should win the race and treat the message as newly routed")
}

func TestCache_EvictionOrder(t *testing.T) {
	// Eviction removes the oldest routed entry in O(1) via the linked list
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	// Route messages in order
	cache.Mark("msg-first")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("msg-second")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("msg-third")

	// All should be recorded as routed
	assert.True(t, cache.Check("msg-first"))
	assert.True(t, cache.Check("msg-second"))
	assert.True(t, cache.Check("msg-third"))

	// Route a fourth message - should evict "msg-first" (oldest)
	cache.Mark("msg-fourth")

	assert.False(t, cache.Check("msg-first"), "first should be evicted")
	assert.True(t, cache.Check("msg-second"))
	assert.True(t, cache.Check("msg-third"))
	assert.True(t, cache.Check("msg-fourth"))

	// Route a fifth message - should evict "msg-second"
	cache.Mark("msg-fifth")

	assert.False(t, cache.Check("msg-second"), "second should be evicted")
	assert.True(t, cache.Check("msg-third"))
	assert.True(t, cache.Check("msg-fourth"))
	assert.True(t, cache.Check("msg-fifth"))
}
