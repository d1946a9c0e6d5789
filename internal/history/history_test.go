package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T, retention int) *Store {
	t.Helper()
	cfg := Config{Enabled: true, Path: filepath.Join(t.TempDir(), "nested", "history.db"), RetentionDays: retention}
	s, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Enabled() {
		t.Fatal("disabled store reports enabled")
	}
	if err := s.Record(context.Background(), Record{RequestID: "1"}); err != nil {
		t.Fatalf("record on disabled store: %v", err)
	}
	records, err := s.Recent(context.Background(), 10)
	if err != nil || records != nil {
		t.Fatalf("Recent = %v, %v", records, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{Enabled: true}, nil); err == nil {
		t.Fatal("expected an error without a path")
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openTemp(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []Record{
		{RequestID: "a", Command: "SYNTHESIZE", Engine: "gtts", Language: "en", Voice: "com", Text: "hello", Bytes: 1200, Duration: 250 * time.Millisecond, CreatedAt: base},
		{RequestID: "b", Command: "SYNTHESIZE", Engine: "gtts", Language: "en", Voice: "com", Text: "hello", CacheHit: true, Bytes: 1200, CreatedAt: base.Add(time.Second)},
		{RequestID: "c", Command: "SYNTHESIZE", Engine: "voicevox", Language: "ja", Voice: "3", Code: 1001, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.RequestID, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].RequestID != "c" || got[1].RequestID != "b" {
		t.Errorf("order = %s, %s; want c, b", got[0].RequestID, got[1].RequestID)
	}
	if got[0].OK() || got[0].Code != 1001 {
		t.Errorf("code = %d", got[0].Code)
	}
	if !got[1].CacheHit || got[1].Bytes != 1200 {
		t.Errorf("record b = %+v", got[1])
	}
	if !got[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("created_at = %v", got[1].CreatedAt)
	}

	all, _ := s.Recent(ctx, 0)
	if len(all) != 3 || all[2].Duration != 250*time.Millisecond {
		t.Errorf("all = %+v", all)
	}
}

func TestPrune(t *testing.T) {
	s := openTemp(t, 1)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	if err := s.Record(ctx, Record{RequestID: "old", Command: "SYNTHESIZE", CreatedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Record{RequestID: "new", Command: "SYNTHESIZE"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RequestID != "new" {
		t.Fatalf("after prune = %+v", got)
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Errorf("default created_at = %v, want %v", got[0].CreatedAt, now)
	}
}
