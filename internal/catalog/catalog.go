// Package catalog holds the voices each engine exposes. The local snapshot
// is refreshed from the running VOICEVOX engine; the cloud table is static.
package catalog

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// Catalog caches the last good local voice list.
type Catalog struct {
	local ttypes.Engine // nil when no local engine is configured
	log   *log.Logger

	mu          sync.RWMutex
	snapshot    []ttypes.VoiceDescriptor
	refreshedAt time.Time
}

// New creates a catalog backed by the given local engine.
func New(local ttypes.Engine, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = log.Default()
	}
	return &Catalog{local: local, log: logger}
}

// RefreshLocal queries the local engine. It returns the fresh list, or an
// empty list when the engine is unreachable or the query fails; in that
// case the previous snapshot is kept.
func (c *Catalog) RefreshLocal(ctx context.Context) []ttypes.VoiceDescriptor {
	if c.local == nil || !c.local.IsAvailable(ctx) {
		return nil
	}

	voices, err := c.local.ListVoices(ctx, "")
	if err != nil {
		c.log.Warn("local voice refresh failed, keeping last snapshot", "error", err)
		return nil
	}
	if len(voices) == 0 {
		return nil
	}

	c.mu.Lock()
	c.snapshot = slices.Clone(voices)
	c.refreshedAt = time.Now()
	c.mu.Unlock()

	c.log.Debug("local voices refreshed", "count", len(voices))
	return voices
}

// LocalVoices returns the freshest successful snapshot.
func (c *Catalog) LocalVoices() []ttypes.VoiceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.snapshot)
}

// RefreshedAt returns when the snapshot was last replaced.
func (c *Catalog) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.refreshedAt
}

// Voices returns the voices of an engine, filtered by language.
func (c *Catalog) Voices(kind ttypes.EngineKind, lang string) []ttypes.VoiceDescriptor {
	var all []ttypes.VoiceDescriptor
	switch kind {
	case ttypes.EngineLocal:
		all = c.LocalVoices()
	case ttypes.EngineCloud:
		all = CloudVoices()
	}

	lang = NormalizeLanguage(lang)
	out := all[:0:0]
	for _, v := range all {
		if v.Matches(lang) {
			out = append(out, v)
		}
	}
	return out
}

// Languages returns the languages an engine accepts.
func (c *Catalog) Languages(kind ttypes.EngineKind) []string {
	switch kind {
	case ttypes.EngineLocal:
		return []string{"ja"}
	case ttypes.EngineCloud:
		return CloudLanguages()
	default:
		return nil
	}
}

// HasVoice reports whether id is a valid voice selector for the engine.
// Before the first successful local refresh any non-negative style id is
// accepted, since the engine is the only authority on its styles.
func (c *Catalog) HasVoice(kind ttypes.EngineKind, id string) bool {
	switch kind {
	case ttypes.EngineCloud:
		return IsCloudAccent(id)
	case ttypes.EngineLocal:
		snapshot := c.LocalVoices()
		if len(snapshot) == 0 {
			return isStyleID(id)
		}
		return slices.ContainsFunc(snapshot, func(v ttypes.VoiceDescriptor) bool {
			return v.ID == id
		})
	default:
		return false
	}
}

func isStyleID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
