package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/ttypes"
)

// VoicevoxEngine implements ttypes.Engine against a local VOICEVOX engine.
// Synthesis is two calls: /audio_query builds the prosody query and
// /synthesis renders it to WAV.
type VoicevoxEngine struct {
	baseURL      *url.URL
	client       *http.Client
	timeout      time.Duration
	probeTimeout time.Duration
	probeTTL     time.Duration
	defaultVoice string
	log          *log.Logger

	// Last reachability probe
	probeMu   sync.Mutex
	probedAt  time.Time
	reachable bool
}

// VoicevoxConfig holds configuration for the VOICEVOX engine.
type VoicevoxConfig struct {
	// BaseURL of the engine - defaults to http://127.0.0.1:50021
	BaseURL string

	// Timeout bounds each synthesis round trip - defaults to 5s
	Timeout time.Duration

	// ProbeTTL is how long a reachability result is reused - defaults to 2s
	ProbeTTL time.Duration

	// DefaultVoice is the style id used when none is configured - defaults to "1"
	DefaultVoice string

	// HTTPClient is optional
	HTTPClient *http.Client
}

var _ ttypes.Engine = (*VoicevoxEngine)(nil)

// NewVoicevoxEngine creates a new VOICEVOX adapter.
func NewVoicevoxEngine(config VoicevoxConfig, logger *log.Logger) (*VoicevoxEngine, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:50021"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.ProbeTTL <= 0 {
		config.ProbeTTL = 2 * time.Second
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = "1"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = log.Default()
	}

	u, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid voicevox url %q", config.BaseURL)
	}

	return &VoicevoxEngine{
		baseURL:      u,
		client:       config.HTTPClient,
		timeout:      config.Timeout,
		probeTimeout: min(config.Timeout, time.Second),
		probeTTL:     config.ProbeTTL,
		defaultVoice: config.DefaultVoice,
		log:          logger,
	}, nil
}

// Kind identifies the local variant.
func (e *VoicevoxEngine) Kind() ttypes.EngineKind { return ttypes.EngineLocal }

// DefaultVoice returns the built-in style id.
func (e *VoicevoxEngine) DefaultVoice() string { return e.defaultVoice }

// Capabilities reports that speed is not adjustable and that availability
// is probed.
func (e *VoicevoxEngine) Capabilities() ttypes.Capabilities {
	return ttypes.Capabilities{Speed: false, ProbeAvailability: true, Format: ttypes.FormatWAV}
}

// Synthesize renders Japanese text with the given style id. speed is
// accepted and ignored.
func (e *VoicevoxEngine) Synthesize(ctx context.Context, text, language, voice string, _ float64) ([]byte, ttypes.AudioFormat, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", ErrEmptyText
	}
	if !catalog.IsJapanese(language) {
		return nil, "", fmt.Errorf("%w: voicevox speaks Japanese only, got %q", ErrUnsupportedLanguage, language)
	}
	speaker, err := strconv.Atoi(voice)
	if err != nil || speaker < 0 {
		return nil, "", fmt.Errorf("%w: style id %q", ErrInvalidVoice, voice)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query, err := e.audioQuery(ctx, text, speaker)
	if err != nil {
		return nil, "", err
	}

	wav, err := e.synthesis(ctx, query, speaker)
	if err != nil {
		return nil, "", err
	}

	e.log.Debug("voicevox synthesized", "speaker", speaker, "bytes", len(wav))
	return wav, ttypes.FormatWAV, nil
}

// audioQuery asks the engine for the prosody query of text.
func (e *VoicevoxEngine) audioQuery(ctx context.Context, text string, speaker int) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(speaker))

	body, err := e.do(ctx, http.MethodPost, "/audio_query", params, nil, "audio_query")
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &Error{Engine: ttypes.EngineLocal, Op: "audio_query", Err: fmt.Errorf("response is not JSON")}
	}
	return body, nil
}

// synthesis renders a query to WAV.
func (e *VoicevoxEngine) synthesis(ctx context.Context, query []byte, speaker int) ([]byte, error) {
	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speaker))

	wav, err := e.do(ctx, http.MethodPost, "/synthesis", params, query, "synthesis")
	if err != nil {
		return nil, err
	}
	if len(wav) < 12 || string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, &Error{Engine: ttypes.EngineLocal, Op: "synthesis", Err: fmt.Errorf("response is not a WAV file (%d bytes)", len(wav))}
	}
	return wav, nil
}

// speakerInfo mirrors the /speakers response.
type speakerInfo struct {
	Name        string `json:"name"`
	SpeakerUUID string `json:"speaker_uuid"`
	Styles      []struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	} `json:"styles"`
}

// ListVoices returns one descriptor per speaker style. Every style speaks
// Japanese only, so other language filters yield an empty list.
func (e *VoicevoxEngine) ListVoices(ctx context.Context, language string) ([]ttypes.VoiceDescriptor, error) {
	if language != "" && !catalog.IsJapanese(language) {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := e.do(ctx, http.MethodGet, "/speakers", nil, nil, "speakers")
	if err != nil {
		return nil, err
	}

	var speakers []speakerInfo
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, &Error{Engine: ttypes.EngineLocal, Op: "speakers", Err: fmt.Errorf("decode: %w", err)}
	}

	var voices []ttypes.VoiceDescriptor
	for _, s := range speakers {
		for _, style := range s.Styles {
			voices = append(voices, ttypes.VoiceDescriptor{
				ID:          strconv.Itoa(style.ID),
				DisplayName: fmt.Sprintf("%s (%s)", s.Name, style.Name),
				LanguageTag: "ja",
				Engine:      ttypes.EngineLocal,
			})
		}
	}
	return voices, nil
}

// IsAvailable probes /version with a short deadline. Results are reused
// for ProbeTTL so a burst of requests does not hammer the engine.
func (e *VoicevoxEngine) IsAvailable(ctx context.Context) bool {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()

	if !e.probedAt.IsZero() && time.Since(e.probedAt) < e.probeTTL {
		return e.reachable
	}

	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	_, err := e.do(ctx, http.MethodGet, "/version", nil, nil, "probe")
	reachable := err == nil
	if reachable != e.reachable || e.probedAt.IsZero() {
		e.log.Info("voicevox reachability changed", "reachable", reachable, "url", e.baseURL.String())
	}
	e.reachable = reachable
	e.probedAt = time.Now()
	return reachable
}

func (e *VoicevoxEngine) do(ctx context.Context, method, path string, params url.Values, body []byte, op string) ([]byte, error) {
	u := *e.baseURL
	u.Path += path
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, &Error{Engine: ttypes.EngineLocal, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transportError(ttypes.EngineLocal, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ttypes.EngineLocal, op, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ttypes.EngineLocal, op, err)
	}
	return data, nil
}
