package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/vrct-tts/connector/internal/utils"
)

// Store is the single owner of the live settings. Readers take snapshots;
// writers go through Update, which validates, persists and notifies.
type Store struct {
	path string // empty for an in-memory store
	log  *log.Logger

	mu          sync.RWMutex
	current     Settings
	lastWritten []byte

	subMu       sync.Mutex
	subscribers map[int]func(Settings)
	nextSub     int
}

// NewStore creates an in-memory store seeded with s.
func NewStore(s Settings, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Store{current: s.Clone(), log: logger, subscribers: map[int]func(Settings){}}, nil
}

// Load reads settings from path, falling back to defaults when the file
// does not exist yet. The file is created on the first Update.
func Load(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	st := &Store{path: path, log: logger, subscribers: map[int]func(Settings){}}

	s, raw, err := readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("settings file not found, using defaults", "path", path)
		s = Defaults()
	case err != nil:
		return nil, err
	default:
		st.lastWritten = raw
	}

	st.current = s
	return st, nil
}

func readFile(path string) (Settings, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, nil, err
	}

	s := Defaults()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, raw, nil
}

// Path returns the backing file, or "" for an in-memory store.
func (st *Store) Path() string { return st.path }

// Snapshot returns a deep copy of the current settings.
func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.current.Clone()
}

// Update applies fn to a copy of the settings. Nothing changes when fn or
// validation fails. On success the file is rewritten and subscribers are
// notified.
func (st *Store) Update(fn func(*Settings) error) error {
	st.mu.Lock()

	next := st.current.Clone()
	if err := fn(&next); err != nil {
		st.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		st.mu.Unlock()
		return err
	}

	if st.path != "" {
		raw, err := yaml.Marshal(next)
		if err != nil {
			st.mu.Unlock()
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
			st.mu.Unlock()
			return fmt.Errorf("create settings dir: %w", err)
		}
		if err := utils.WriteFileAtomic(st.path, raw, 0o644); err != nil {
			st.mu.Unlock()
			return fmt.Errorf("write settings: %w", err)
		}
		st.lastWritten = raw
	}

	st.current = next
	snapshot := next.Clone()
	st.mu.Unlock()

	st.notify(snapshot)
	return nil
}

// Subscribe registers fn to run after every successful change. The
// returned func removes it.
func (st *Store) Subscribe(fn func(Settings)) func() {
	st.subMu.Lock()
	defer st.subMu.Unlock()

	id := st.nextSub
	st.nextSub++
	st.subscribers[id] = fn

	return func() {
		st.subMu.Lock()
		defer st.subMu.Unlock()
		delete(st.subscribers, id)
	}
}

func (st *Store) notify(s Settings) {
	st.subMu.Lock()
	fns := make([]func(Settings), 0, len(st.subscribers))
	for _, fn := range st.subscribers {
		fns = append(fns, fn)
	}
	st.subMu.Unlock()

	for _, fn := range fns {
		fn(s.Clone())
	}
}

// Watch reloads the file when another program writes it. Writes made by
// Update are recognized by content and skipped. It blocks until ctx ends.
func (st *Store) Watch(ctx context.Context) error {
	if st.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}
	st.log.Debug("watching settings file", "path", st.path)

	target := filepath.Clean(st.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			st.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			st.log.Debug("settings watcher error", "error", err)
		}
	}
}

// reload applies an external edit. Invalid files are logged and ignored.
func (st *Store) reload() {
	s, raw, err := readFile(st.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			st.log.Warn("ignoring settings file change", "path", st.path, "error", err)
		}
		return
	}

	st.mu.Lock()
	if bytes.Equal(raw, st.lastWritten) {
		st.mu.Unlock()
		return
	}
	st.current = s
	st.lastWritten = raw
	snapshot := s.Clone()
	st.mu.Unlock()

	st.log.Info("settings reloaded", "path", st.path)
	st.notify(snapshot)
}
