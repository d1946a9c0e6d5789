// Package protocol defines the websocket envelope exchanged with VRCT
// clients: the request shape, the response shape and the rules that pick
// the text to speak out of a VRCT message.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
)

var (
	// ErrMalformed indicates the frame is not a JSON object or lacks the
	// command name or request id
	ErrMalformed = errors.New("malformed request envelope")

	// ErrUnknownCommand indicates a well-formed envelope naming a command
	// this connector does not implement
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidField indicates a field holds a value of the wrong shape
	ErrInvalidField = errors.New("invalid field")

	// ErrMissingText indicates no usable text could be resolved
	ErrMissingText = errors.New("no text to synthesize")
)

// Command names a request type.
type Command string

const (
	CommandSynthesize        Command = "SYNTHESIZE"
	CommandGetVoices         Command = "GET_VOICES"
	CommandStop              Command = "STOP"
	CommandSetDefaultVoice   Command = "SET_DEFAULT_VOICE"
	CommandSetGlobalSettings Command = "SET_GLOBAL_SETTINGS"
)

var commands = map[Command]bool{
	CommandSynthesize:        true,
	CommandGetVoices:         true,
	CommandStop:              true,
	CommandSetDefaultVoice:   true,
	CommandSetGlobalSettings: true,
}

// ParseCommand accepts the canonical names, lowercase spellings and the
// TTS_ prefix older clients send.
func ParseCommand(s string) (Command, bool) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "TTS_")
	cmd := Command(name)
	return cmd, commands[cmd]
}

// SourceKind says which VRCT field carries the text.
type SourceKind int

const (
	SourceDirect SourceKind = iota
	SourceOriginal
	SourceTranslated
)

func (k SourceKind) String() string {
	switch k {
	case SourceOriginal:
		return "original"
	case SourceTranslated:
		return "translated"
	default:
		return "direct"
	}
}

// ParseSourceKind maps VRCT message types. Unrecognized values resolve to
// SourceDirect and report false.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SENT", "CHAT", "ORIGINAL":
		return SourceOriginal, true
	case "RECEIVED", "TRANSLATED":
		return SourceTranslated, true
	case "", "DIRECT":
		return SourceDirect, true
	}
	return SourceDirect, false
}

// ID is a client-chosen request id. Numbers are kept as their literal text.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("%w: request_id must be a string or number", ErrInvalidField)
	}
	*id = ID(b)
	return nil
}

// Languages accepts either a single code or a list of codes.
type Languages []string

func (l *Languages) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*l = nil
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Languages{s}
		return nil
	case b[0] == '[':
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return fmt.Errorf("%w: languages must be strings", ErrInvalidField)
		}
		*l = list
		return nil
	}
	return fmt.Errorf("%w: languages must be a string or a list", ErrInvalidField)
}

// First returns the first non-blank code.
func (l Languages) First() string {
	for _, code := range l {
		if code = strings.TrimSpace(code); code != "" {
			return code
		}
	}
	return ""
}

// Request is one inbound command.
type Request struct {
	Command   string `json:"command"`
	RequestID ID     `json:"request_id"`

	// SYNTHESIZE, GET_VOICES, SET_DEFAULT_VOICE
	Text     string   `json:"text,omitempty"`
	Language string   `json:"language,omitempty"`
	Voice    string   `json:"voice,omitempty"`
	VoiceID  string   `json:"voice_id,omitempty"`
	Engine   string   `json:"engine,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Play     *bool    `json:"play,omitempty"`

	// VRCT message fields
	SourceKind   string    `json:"source_kind,omitempty"`
	Type         string    `json:"type,omitempty"`
	Message      string    `json:"message,omitempty"`
	Translation  string    `json:"translation,omitempty"`
	SrcLanguages Languages `json:"src_languages,omitempty"`
	DstLanguages Languages `json:"dst_languages,omitempty"`

	// STOP
	Target string `json:"target,omitempty"`

	// SET_GLOBAL_SETTINGS
	Settings map[string]json.RawMessage `json:"settings,omitempty"`

	cmd Command
}

// Cmd returns the normalized command.
func (r Request) Cmd() Command { return r.cmd }

// VoiceSelector returns voice, or the voice_id spelling VRCT sends.
func (r Request) VoiceSelector() string {
	if v := strings.TrimSpace(r.Voice); v != "" {
		return v
	}
	return strings.TrimSpace(r.VoiceID)
}

// Parse decodes a text frame. The returned request carries the request id
// whenever it could be read, even alongside an error.
func Parse(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Request{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var req Request
	if id, ok := fields["request_id"]; ok {
		_ = req.RequestID.UnmarshalJSON(id)
	}
	if _, ok := fields["command"]; !ok {
		return req, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	if req.RequestID == "" {
		return req, fmt.Errorf("%w: missing request_id", ErrMalformed)
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return req, fmt.Errorf("%w: %s", ErrInvalidField, typeErr.Field)
		}
		if errors.Is(err, ErrInvalidField) {
			return req, err
		}
		return req, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if strings.TrimSpace(req.Command) == "" {
		return req, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	cmd, ok := ParseCommand(req.Command)
	if !ok {
		return req, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	req.cmd = cmd
	return req, nil
}

// Kind resolves the source kind, preferring source_kind over type.
func (r Request) Kind() (SourceKind, bool) {
	if r.SourceKind != "" {
		return ParseSourceKind(r.SourceKind)
	}
	return ParseSourceKind(r.Type)
}

// Utterance is the text and language picked out of a request.
type Utterance struct {
	Text     string
	Language string
	Source   SourceKind
}

// Utterance selects the text to speak. The source kind is authoritative:
// a SENT message speaks the original even when a translation is present.
// When the selected field is empty the direct text and language are used.
// Language may be empty; callers apply their default.
func (r Request) Utterance() (Utterance, error) {
	kind, _ := r.Kind()

	var u Utterance
	switch kind {
	case SourceOriginal:
		u = Utterance{Text: clean(r.Message), Language: r.SrcLanguages.First(), Source: SourceOriginal}
	case SourceTranslated:
		text := clean(r.Translation)
		if text == "" {
			text = clean(r.Message)
		}
		u = Utterance{Text: text, Language: r.DstLanguages.First(), Source: SourceTranslated}
	}

	if u.Text == "" {
		u = Utterance{Text: clean(r.Text), Source: SourceDirect}
	}
	if u.Language == "" {
		u.Language = strings.TrimSpace(r.Language)
	}
	if u.Text == "" {
		return Utterance{}, ErrMissingText
	}
	return u, nil
}

// clean decodes HTML entities VRCT leaves in chat text and trims it.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}
