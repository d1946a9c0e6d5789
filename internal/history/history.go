// Package history keeps a SQLite log of synthesis requests and their
// outcomes, pruned to a retention window.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

// Record is one handled SYNTHESIZE request.
type Record struct {
	ID        int64
	RequestID string
	Command   string
	Engine    string
	Language  string
	Voice     string
	Text      string
	CacheHit  bool
	Bytes     int
	Code      int // 0 on success
	Duration  time.Duration
	CreatedAt time.Time
}

// OK reports whether the request succeeded.
func (r Record) OK() bool { return r.Code == 0 }

// Config controls the history store.
type Config struct {
	Enabled       bool
	Path          string
	RetentionDays int
}

// Store wraps the history database. A disabled store accepts every call
// and keeps nothing.
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *log.Logger
	clock func() time.Time
}

// Open creates the database and schema, then prunes expired records.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{cfg: cfg, log: logger, clock: time.Now}
	if !cfg.Enabled {
		return s, nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("history enabled without a path")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		logger.Warn("history prune on start failed", "error", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS synthesis (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    command TEXT NOT NULL,
    engine TEXT,
    language TEXT,
    voice TEXT,
    text TEXT,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0,
    code INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_synthesis_created ON synthesis(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether records are kept.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

// Close releases the database.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// Record appends one record. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, r Record) error {
	if !s.Enabled() {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO synthesis(request_id, command, engine, language, voice, text, cache_hit, bytes, code, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.Command, r.Engine, r.Language, r.Voice, r.Text, r.CacheHit, r.Bytes, r.Code,
		r.Duration.Milliseconds(), r.CreatedAt.UnixMilli())
	return err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, command, engine, language, voice, text, cache_hit, bytes, code, duration_ms, created_at
		 FROM synthesis ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			durationMS int64
			createdMS  int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Command, &r.Engine, &r.Language, &r.Voice, &r.Text,
			&r.CacheHit, &r.Bytes, &r.Code, &durationMS, &createdMS); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records older than the retention window. Zero retention
// keeps everything.
func (s *Store) Prune(ctx context.Context) error {
	if !s.Enabled() || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM synthesis WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("history pruned", "records", n)
	}
	return nil
}
