package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantCmd Command
		wantID  ID
		wantErr error
	}{
		{"synthesize", `{"command":"SYNTHESIZE","request_id":"r1","text":"hi"}`, CommandSynthesize, "r1", nil},
		{"lowercase", `{"command":"get_voices","request_id":"r2"}`, CommandGetVoices, "r2", nil},
		{"legacy prefix", `{"command":"TTS_STOP","request_id":"r3"}`, CommandStop, "r3", nil},
		{"numeric id", `{"command":"STOP","request_id":42}`, CommandStop, "42", nil},
		{"not json", `hello`, "", "", ErrMalformed},
		{"array", `[1,2]`, "", "", ErrMalformed},
		{"null", `null`, "", "", ErrMalformed},
		{"missing command", `{"request_id":"r4"}`, "", "r4", ErrMalformed},
		{"blank command", `{"command":" ","request_id":"r5"}`, "", "r5", ErrMalformed},
		{"missing id", `{"command":"STOP"}`, "", "", ErrMalformed},
		{"unknown command", `{"command":"DANCE","request_id":"r6"}`, "", "r6", ErrUnknownCommand},
		{"wrong field type", `{"command":"SYNTHESIZE","request_id":"r7","speed":"fast"}`, "", "r7", ErrInvalidField},
		{"bad languages", `{"command":"SYNTHESIZE","request_id":"r8","src_languages":{"1":"en"}}`, "", "r8", ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.RequestID != tt.wantID {
				t.Errorf("request id = %q, want %q", req.RequestID, tt.wantID)
			}
			if req.Cmd() != tt.wantCmd {
				t.Errorf("command = %q, want %q", req.Cmd(), tt.wantCmd)
			}
		})
	}
}

func TestRequest_Utterance(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantLang string
		wantKind SourceKind
		wantErr  bool
	}{
		{
			name:     "sent uses message and source language",
			raw:      `{"type":"SENT","message":"Hello","translation":"こんにちは","src_languages":["en"],"dst_languages":["ja"]}`,
			wantText: "Hello", wantLang: "en", wantKind: SourceOriginal,
		},
		{
			name:     "received uses translation and target language",
			raw:      `{"type":"RECEIVED","message":"こんにちは","translation":"Hello there","src_languages":["ja"],"dst_languages":"en"}`,
			wantText: "Hello there", wantLang: "en", wantKind: SourceTranslated,
		},
		{
			name:     "received without translation speaks the message",
			raw:      `{"type":"RECEIVED","message":"Bonjour","dst_languages":["fr"]}`,
			wantText: "Bonjour", wantLang: "fr", wantKind: SourceTranslated,
		},
		{
			name:     "source_kind wins over type",
			raw:      `{"source_kind":"TRANSLATED","type":"SENT","message":"a","translation":"b"}`,
			wantText: "b", wantKind: SourceTranslated,
		},
		{
			name:     "direct fields",
			raw:      `{"text":"  plain  ","language":"de"}`,
			wantText: "plain", wantLang: "de", wantKind: SourceDirect,
		},
		{
			name:     "chat falls back to direct text",
			raw:      `{"type":"CHAT","text":"fallback","language":"en"}`,
			wantText: "fallback", wantLang: "en", wantKind: SourceDirect,
		},
		{
			name:     "html entities are decoded",
			raw:      `{"type":"SENT","message":"Tom &amp; Jerry","src_languages":"en"}`,
			wantText: "Tom & Jerry", wantLang: "en", wantKind: SourceOriginal,
		},
		{
			name:     "unknown kind uses direct text",
			raw:      `{"type":"SYSTEM","message":"ignored","text":"used"}`,
			wantText: "used", wantKind: SourceDirect,
		},
		{
			name:    "nothing to say",
			raw:     `{"type":"SENT","message":"   "}`,
			wantErr: true,
		},
		{
			name:    "translation kind without text",
			raw:     `{"type":"RECEIVED"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.raw), &req); err != nil {
				t.Fatal(err)
			}
			u, err := req.Utterance()
			if tt.wantErr {
				if !errors.Is(err, ErrMissingText) {
					t.Fatalf("err = %v, want ErrMissingText", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if u.Text != tt.wantText || u.Language != tt.wantLang || u.Source != tt.wantKind {
				t.Errorf("got %+v, want text %q lang %q kind %s", u, tt.wantText, tt.wantLang, tt.wantKind)
			}
		})
	}
}

func TestResponse_JSON(t *testing.T) {
	b, err := json.Marshal(Failure("r1", 1001, "voice not valid"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	for _, want := range []string{`"status":"error"`, `"request_id":"r1"`, `"code":1001`} {
		if !strings.Contains(got, want) {
			t.Errorf("%s missing %s", got, want)
		}
	}
	if strings.Contains(got, `"data"`) {
		t.Errorf("error response carries data: %s", got)
	}

	b, _ = json.Marshal(Success("r2", "ok", SynthesisData{AudioFormat: "mp3", Bytes: 3}))
	if strings.Contains(string(b), `"code"`) {
		t.Errorf("success response carries code: %s", b)
	}
	if !strings.Contains(string(b), `"audio_format":"mp3"`) {
		t.Errorf("missing audio_format: %s", b)
	}
}

func TestRequest_VoiceSelector(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"command":"SYNTHESIZE","request_id":"1","voice":"3"}`, "3"},
		{`{"command":"SYNTHESIZE","request_id":"1","voice_id":" co.uk "}`, "co.uk"},
		{`{"command":"SYNTHESIZE","request_id":"1","voice":"com","voice_id":"co.uk"}`, "com"},
		{`{"command":"SYNTHESIZE","request_id":"1"}`, ""},
	}
	for _, tt := range tests {
		req, err := Parse([]byte(tt.raw))
		if err != nil {
			t.Fatalf("Parse(%s): %v", tt.raw, err)
		}
		if got := req.VoiceSelector(); got != tt.want {
			t.Errorf("VoiceSelector(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
