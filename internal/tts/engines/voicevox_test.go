package engines

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// fakeWAV is the smallest header the adapter accepts.
var fakeWAV = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

type fakeVoicevox struct {
	queries   atomic.Int32
	syntheses atomic.Int32
	probes    atomic.Int32
}

func (f *fakeVoicevox) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)
		_, _ = w.Write([]byte(`"0.14.0"`))
	})
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		f.queries.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("audio_query method = %s", r.Method)
		}
		if r.URL.Query().Get("text") == "" || r.URL.Query().Get("speaker") == "" {
			t.Errorf("audio_query missing params: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"speedScale": 1.0, "accent_phrases": []any{}})
	})
	mux.HandleFunc("/synthesis", func(w http.ResponseWriter, r *http.Request) {
		f.syntheses.Add(1)
		body, _ := io.ReadAll(r.Body)
		if !json.Valid(body) {
			t.Errorf("synthesis body is not the query JSON: %q", body)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(fakeWAV)
	})
	mux.HandleFunc("/speakers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"四国めたん","speaker_uuid":"7ffcb7ce","styles":[{"name":"ノーマル","id":2},{"name":"あまあま","id":0}]},
			{"name":"ずんだもん","speaker_uuid":"388f246b","styles":[{"name":"ノーマル","id":3}]}
		]`))
	})
	return mux
}

func newTestVoicevox(t *testing.T) (*VoicevoxEngine, *fakeVoicevox) {
	t.Helper()
	fake := &fakeVoicevox{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	engine, err := NewVoicevoxEngine(VoicevoxConfig{BaseURL: srv.URL, ProbeTTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("NewVoicevoxEngine failed: %v", err)
	}
	return engine, fake
}

func TestVoicevoxEngine_Synthesize(t *testing.T) {
	engine, fake := newTestVoicevox(t)

	audio, format, err := engine.Synthesize(context.Background(), "こんにちは", "ja-JP", "3", 1.5)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if format != ttypes.FormatWAV {
		t.Errorf("format = %s, want wav", format)
	}
	if string(audio) != string(fakeWAV) {
		t.Errorf("audio mismatch")
	}
	if fake.queries.Load() != 1 || fake.syntheses.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", fake.queries.Load(), fake.syntheses.Load())
	}
}

func TestVoicevoxEngine_Validation(t *testing.T) {
	engine, fake := newTestVoicevox(t)

	tests := []struct {
		name  string
		text  string
		lang  string
		voice string
		want  error
	}{
		{"empty text", "", "ja", "1", ErrEmptyText},
		{"english is refused", "hello", "en", "1", ErrUnsupportedLanguage},
		{"non-numeric voice", "こんにちは", "ja", "com", ErrInvalidVoice},
		{"negative voice", "こんにちは", "ja", "-1", ErrInvalidVoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := engine.Synthesize(context.Background(), tt.text, tt.lang, tt.voice, 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if fake.queries.Load() != 0 {
		t.Error("invalid requests reached the engine")
	}
}

func TestVoicevoxEngine_ListVoices(t *testing.T) {
	engine, _ := newTestVoicevox(t)

	voices, err := engine.ListVoices(context.Background(), "")
	if err != nil {
		t.Fatalf("ListVoices failed: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("got %d voices, want 3", len(voices))
	}
	if voices[0].ID != "2" || voices[0].DisplayName != "四国めたん (ノーマル)" || voices[0].LanguageTag != "ja" {
		t.Errorf("unexpected first voice: %+v", voices[0])
	}

	english, err := engine.ListVoices(context.Background(), "en")
	if err != nil || len(english) != 0 {
		t.Errorf("english voices = %v, err %v; want none", english, err)
	}
}

func TestVoicevoxEngine_IsAvailable(t *testing.T) {
	engine, fake := newTestVoicevox(t)

	if !engine.IsAvailable(context.Background()) {
		t.Fatal("reachable engine reported unavailable")
	}
	engine.IsAvailable(context.Background())
	if fake.probes.Load() != 1 {
		t.Errorf("probes = %d, want 1 (cached)", fake.probes.Load())
	}
}

func TestVoicevoxEngine_Unreachable(t *testing.T) {
	// Reserve a port and close it so nothing listens there.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	engine, err := NewVoicevoxEngine(VoicevoxConfig{BaseURL: url, Timeout: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if engine.IsAvailable(context.Background()) {
		t.Error("closed port reported available")
	}
	if time.Since(start) > time.Second {
		t.Error("probe did not respect its deadline")
	}

	_, _, err = engine.Synthesize(context.Background(), "こんにちは", "ja", "1", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestNewVoicevoxEngine_InvalidURL(t *testing.T) {
	if _, err := NewVoicevoxEngine(VoicevoxConfig{BaseURL: "::not a url"}, nil); err == nil {
		t.Error("expected error for invalid url")
	}
}
