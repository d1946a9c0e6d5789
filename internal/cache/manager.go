package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Manager coordinates the memory and disk tiers. Lookups go to memory
// first and promote disk hits; stores write through to both.
type Manager struct {
	memory *MemoryCache
	disk   *DiskCache // nil when the disk tier is disabled

	log *log.Logger

	memoryHits atomic.Int64
	diskHits   atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64
}

var _ Store = (*Manager)(nil)

// NewManager creates a cache manager. The disk tier is opened only when
// cfg.DiskEnabled is set.
func NewManager(cfg Config, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}

	m := &Manager{
		memory: NewMemoryCache(cfg.MaxEntries),
		log:    logger,
	}

	if cfg.DiskEnabled {
		if cfg.DiskPath == "" {
			return nil, fmt.Errorf("disk cache enabled without a path")
		}
		disk, err := NewDiskCache(cfg.DiskPath, cfg.DiskCapacity, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		m.disk = disk
		stats := disk.Stats()
		logger.Debug("disk cache opened", "path", cfg.DiskPath,
			"entries", stats.ItemCount, "size", humanize.Bytes(uint64(stats.Size)))
	}

	return m, nil
}

// Get looks the key up in memory, then on disk.
func (m *Manager) Get(key string) (Entry, Level, bool) {
	if entry, ok := m.memory.Get(key); ok {
		m.memoryHits.Add(1)
		return entry, LevelMemory, true
	}

	if m.disk != nil {
		if entry, ok := m.disk.Get(key); ok {
			m.diskHits.Add(1)
			m.promoteToMemory(key, entry)
			return entry, LevelDisk, true
		}
	}

	m.misses.Add(1)
	return Entry{}, LevelMiss, false
}

// Put stores the entry and returns the entry that is retained for key,
// which is the earlier one when two callers raced on the same key.
func (m *Manager) Put(key string, entry Entry) (Entry, error) {
	kept, err := m.memory.Put(key, entry)
	if err != nil {
		return Entry{}, err
	}

	if m.disk != nil {
		// Disk failures never fail the request.
		if err := m.disk.Put(key, kept); err != nil {
			m.log.Warn("disk cache write failed", "key", shortKey(key), "error", err)
		}
	}

	return kept, nil
}

// Clear empties both tiers.
func (m *Manager) Clear() error {
	m.memory.Clear()
	if m.disk != nil {
		return m.disk.Clear()
	}
	return nil
}

// Prune removes disk entries created more than maxAge ago and returns how
// many were removed. Memory entries age out through eviction.
func (m *Manager) Prune(maxAge time.Duration) int {
	if m.disk == nil {
		return 0
	}
	n := m.disk.RemoveOlderThan(time.Now().Add(-maxAge))
	if n > 0 {
		m.log.Debug("pruned disk cache", "entries", n, "max_age", maxAge)
	}
	return n
}

// ManagerStats holds manager-level counters plus the stats of each tier.
type ManagerStats struct {
	MemoryHits int64  `json:"memory_hits"`
	DiskHits   int64  `json:"disk_hits"`
	Misses     int64  `json:"misses"`
	Promotions int64  `json:"promotions"`
	Memory     Stats  `json:"memory"`
	Disk       *Stats `json:"disk,omitempty"` // nil when the disk tier is disabled
}

// Stats returns manager-level counters plus both tiers' stats.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		MemoryHits: m.memoryHits.Load(),
		DiskHits:   m.diskHits.Load(),
		Misses:     m.misses.Load(),
		Promotions: m.promotions.Load(),
		Memory:     m.memory.Stats(),
	}
	if m.disk != nil {
		disk := m.disk.Stats()
		stats.Disk = &disk
	}
	return stats
}

// Close flushes the disk index.
func (m *Manager) Close() error {
	if m.disk == nil {
		return nil
	}
	return m.disk.Close()
}

func (m *Manager) promoteToMemory(key string, entry Entry) {
	if _, err := m.memory.Put(key, entry); err == nil {
		m.promotions.Add(1)
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
