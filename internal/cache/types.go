package cache

import (
	"errors"
	"time"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the disk tier capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrEmptyEntry is returned when an entry without audio is stored
	ErrEmptyEntry = errors.New("cache entry has no audio")
)

// Level represents the cache tier an entry was served from.
type Level int

const (
	// LevelMiss means no tier held the key
	LevelMiss Level = iota

	// LevelMemory represents the memory cache (fastest)
	LevelMemory

	// LevelDisk represents the disk cache (persistent)
	LevelDisk
)

// String returns the string representation of the cache level
func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "miss"
	}
}

// Entry is one synthesized audio clip. Entries are immutable once stored:
// the Audio slice is shared read-only by every reader.
type Entry struct {
	Audio     []byte
	Format    ttypes.AudioFormat
	CreatedAt time.Time
}

// Stats holds cache performance metrics
type Stats struct {
	// Configuration
	MaxEntries int   `json:"max_entries,omitempty"` // Entry bound (memory tier)
	Capacity   int64 `json:"capacity,omitempty"`    // Byte bound (disk tier)

	// Current state
	Size      int64 `json:"size"`  // Current size in bytes
	ItemCount int   `json:"items"` // Number of items in cache

	// Performance metrics
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"` // hits / (hits + misses)

	LastEvict time.Time `json:"last_evict"`
}

func (s *Stats) computeHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}

// Config holds configuration for the cache manager
type Config struct {
	// Memory tier
	MaxEntries int

	// Disk tier
	DiskEnabled      bool
	DiskPath         string
	DiskCapacity     int64 // Bytes
	CompressionLevel int   // Zstd compression level (1-22, default 3)
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxEntries:       100,
		DiskEnabled:      false,
		DiskCapacity:     256 * 1024 * 1024, // 256MB
		CompressionLevel: 3,
	}
}

// Store is the contract the dispatcher depends on.
type Store interface {
	// Get returns the entry for key and the tier that served it.
	Get(key string) (Entry, Level, bool)

	// Put stores entry under key. When the key already exists the
	// existing entry is kept and returned.
	Put(key string, entry Entry) (Entry, error)
}
