package cache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/vrct-tts/connector/internal/ttypes"
)

func testEntry(s string) Entry {
	return Entry{Audio: []byte(s), Format: ttypes.FormatMP3}
}

func TestMemoryCache_BasicOperations(t *testing.T) {
	cache := NewMemoryCache(10)

	key := "test-key"
	if _, err := cache.Put(key, testEntry("test-value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("Get failed: key not found")
	}
	if string(got.Audio) != "test-value" {
		t.Errorf("Retrieved value mismatch: got %s, want %s", got.Audio, "test-value")
	}
	if got.Format != ttypes.FormatMP3 {
		t.Errorf("Format mismatch: got %s", got.Format)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}

	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}

	cache.Clear()
	if _, ok := cache.Get(key); ok {
		t.Error("Key still exists after clear")
	}
	if cache.Len() != 0 || cache.Stats().Size != 0 {
		t.Errorf("Len %d size %d after clear", cache.Len(), cache.Stats().Size)
	}
}

func TestMemoryCache_PutIsIdempotent(t *testing.T) {
	cache := NewMemoryCache(10)

	first, err := cache.Put("k", testEntry("first"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	kept, err := cache.Put("k", testEntry("second"))
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	if !bytes.Equal(kept.Audio, first.Audio) {
		t.Errorf("second Put replaced the entry: got %s", kept.Audio)
	}
	got, _ := cache.Get("k")
	if string(got.Audio) != "first" {
		t.Errorf("stored entry = %s, want first", got.Audio)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cache := NewMemoryCache(3)

	for i := 0; i < 3; i++ {
		if _, err := cache.Put(fmt.Sprintf("key%d", i), testEntry("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Touch key0 so key1 becomes the oldest
	if _, ok := cache.Get("key0"); !ok {
		t.Fatal("key0 missing")
	}

	if _, err := cache.Put("key3", testEntry("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stats := cache.Stats()
	if stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
	if stats.ItemCount != 3 {
		t.Errorf("ItemCount = %d, want 3", stats.ItemCount)
	}

	if _, ok := cache.Get("key1"); ok {
		t.Error("key1 should have been evicted")
	}
	for _, k := range []string{"key0", "key2", "key3"} {
		if _, ok := cache.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestMemoryCache_EvictedEntryStaysReadable(t *testing.T) {
	cache := NewMemoryCache(1)

	if _, err := cache.Put("a", testEntry("audio-a")); err != nil {
		t.Fatal(err)
	}
	held, _ := cache.Get("a")

	if _, err := cache.Put("b", testEntry("audio-b")); err != nil {
		t.Fatal(err)
	}

	if string(held.Audio) != "audio-a" {
		t.Errorf("held entry changed after eviction: %s", held.Audio)
	}
}

func TestMemoryCache_RejectsEmptyAudio(t *testing.T) {
	cache := NewMemoryCache(1)
	if _, err := cache.Put("k", Entry{}); err != ErrEmptyEntry {
		t.Errorf("err = %v, want ErrEmptyEntry", err)
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(4)
	_, _ = cache.Put("a", testEntry("12345"))

	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
	if stats.Size != 5 {
		t.Errorf("Size = %d, want 5", stats.Size)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("HitRate = %f", stats.HitRate)
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("key%d", i%20)
				_, _ = cache.Put(key, testEntry(fmt.Sprintf("g%d", g)))
				cache.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if cache.Len() != 20 {
		t.Errorf("Len = %d, want 20 (one entry per key)", cache.Len())
	}
}
