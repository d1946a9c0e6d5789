package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vrct-tts/connector/internal/ttypes"
	"github.com/vrct-tts/connector/internal/utils"
)

const indexFile = "cache.index"

// DiskCache implements the L2 disk cache with optional zstd compression.
// It keeps synthesized audio across restarts, bounded by bytes on disk.
type DiskCache struct {
	basePath string
	capacity int64 // Maximum size in bytes
	size     int64 // Current size in bytes

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups, persisted on Close
	index map[string]*diskCacheEntry

	mu    sync.Mutex
	stats Stats
}

// diskCacheEntry represents an entry in the disk cache index
type diskCacheEntry struct {
	Key          string
	FileName     string
	Format       ttypes.AudioFormat
	Size         int64 // Size on disk
	OriginalSize int64
	CreatedAt    time.Time
	LastAccess   time.Time
	Compressed   bool
}

// NewDiskCache creates a disk cache rooted at basePath. A compression
// level of zero stores audio uncompressed.
func NewDiskCache(basePath string, capacity int64, compressionLevel int) (*DiskCache, error) {
	if capacity <= 0 {
		return nil, errors.New("disk cache capacity must be positive")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &DiskCache{
		basePath: basePath,
		capacity: capacity,
		index:    make(map[string]*diskCacheEntry),
		stats:    Stats{Capacity: capacity},
	}

	if compressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// The decoder is always available so entries written with compression
	// stay readable after compression is turned off.
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	dc.decoder = decoder

	if err := dc.loadIndex(); err != nil {
		// Non-fatal: start with an empty index
		dc.index = make(map[string]*diskCacheEntry)
	}
	dc.dropMissing()

	return dc, nil
}

// Get retrieves an entry from disk.
func (dc *DiskCache) Get(key string) (Entry, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	item, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return Entry{}, false
	}

	data, err := os.ReadFile(filepath.Join(dc.basePath, item.FileName))
	if err != nil {
		dc.forget(key, item)
		dc.stats.Misses++
		return Entry{}, false
	}

	if item.Compressed {
		data, err = dc.decoder.DecodeAll(data, nil)
		if err != nil {
			dc.forget(key, item)
			dc.stats.Misses++
			return Entry{}, false
		}
	}

	item.LastAccess = time.Now()
	dc.stats.Hits++

	return Entry{Audio: data, Format: item.Format, CreatedAt: item.CreatedAt}, true
}

// Put writes an entry to disk. Existing keys are left untouched.
func (dc *DiskCache) Put(key string, entry Entry) error {
	if len(entry.Audio) == 0 {
		return ErrEmptyEntry
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if _, ok := dc.index[key]; ok {
		return nil
	}

	data := entry.Audio
	compressed := false
	// Only compress if > 1KB and only keep it if it actually helps.
	// MP3 rarely shrinks, WAV usually does.
	if dc.encoder != nil && len(data) > 1024 {
		if packed := dc.encoder.EncodeAll(data, nil); len(packed) < len(data) {
			data = packed
			compressed = true
		}
	}

	diskSize := int64(len(data))
	if diskSize > dc.capacity {
		return ErrItemTooLarge
	}

	for dc.size+diskSize > dc.capacity && len(dc.index) > 0 {
		dc.evictOldest()
	}

	fileName := key[:min(len(key), 32)] + ".cache"
	if err := utils.WriteFileAtomic(filepath.Join(dc.basePath, fileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	dc.index[key] = &diskCacheEntry{
		Key:          key,
		FileName:     fileName,
		Format:       entry.Format,
		Size:         diskSize,
		OriginalSize: int64(len(entry.Audio)),
		CreatedAt:    createdAt,
		LastAccess:   time.Now(),
		Compressed:   compressed,
	}
	dc.size += diskSize

	return nil
}

// Clear removes all entries from the disk cache.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for key, item := range dc.index {
		dc.forget(key, item)
	}
	dc.size = 0
	return dc.saveIndex()
}

// RemoveOlderThan removes entries created before cutoff.
func (dc *DiskCache) RemoveOlderThan(cutoff time.Time) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for key, item := range dc.index {
		if item.CreatedAt.Before(cutoff) {
			dc.forget(key, item)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = len(dc.index)
	stats.computeHitRate()
	return stats
}

// Close persists the index and releases the codecs.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()
	return dc.saveIndex()
}

// forget drops an entry and its file (must be called with lock held).
func (dc *DiskCache) forget(key string, item *diskCacheEntry) {
	_ = os.Remove(filepath.Join(dc.basePath, item.FileName))
	delete(dc.index, key)
	dc.size -= item.Size
}

func (dc *DiskCache) evictOldest() {
	var oldest *diskCacheEntry
	for _, item := range dc.index {
		if oldest == nil || item.LastAccess.Before(oldest.LastAccess) {
			oldest = item
		}
	}
	if oldest != nil {
		dc.forget(oldest.Key, oldest)
		dc.stats.Evictions++
		dc.stats.LastEvict = time.Now()
	}
}

// dropMissing removes index entries whose files vanished and recomputes size.
func (dc *DiskCache) dropMissing() {
	dc.size = 0
	for key, item := range dc.index {
		if _, err := os.Stat(filepath.Join(dc.basePath, item.FileName)); err != nil {
			delete(dc.index, key)
			continue
		}
		dc.size += item.Size
	}
}

func (dc *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(dc.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&dc.index); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return nil
}

func (dc *DiskCache) saveIndex() error {
	path := filepath.Join(dc.basePath, indexFile)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(dc.index)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, path)
}
