package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/ttypes"
)

// maxChunkRunes is the longest text the translate endpoint accepts per call.
const maxChunkRunes = 200

// GTTSEngine implements ttypes.Engine using the Google translate TTS
// endpoint. The voice selector is the translate domain, which picks the
// regional accent. Output is MP3.
type GTTSEngine struct {
	endpoint     string // may contain %s for the domain
	client       *http.Client
	timeout      time.Duration
	retryBackoff time.Duration
	userAgent    string
	defaultVoice string
	log          *log.Logger

	// Rate limiting to avoid being blocked by Google
	rateLimiter *rate.Limiter
}

// GTTSConfig holds configuration for the gTTS engine.
type GTTSConfig struct {
	// Endpoint URL; a %s is replaced by the accent domain
	// - defaults to https://translate.google.%s/translate_tts
	Endpoint string

	// Timeout bounds each attempt - defaults to 10s
	Timeout time.Duration

	// RetryBackoff is the wait before the single retry - defaults to 500ms
	RetryBackoff time.Duration

	// Rate limit requests per minute to avoid being blocked (defaults to 60)
	RequestsPerMinute int

	// DefaultVoice is the accent domain - defaults to "com"
	DefaultVoice string

	// UserAgent sent with every request - defaults to Mozilla/5.0
	UserAgent string

	// HTTPClient is optional
	HTTPClient *http.Client
}

var _ ttypes.Engine = (*GTTSEngine)(nil)

// NewGTTSEngine creates a new gTTS adapter.
func NewGTTSEngine(config GTTSConfig, logger *log.Logger) (*GTTSEngine, error) {
	if config.Endpoint == "" {
		config.Endpoint = "https://translate.google.%s/translate_tts"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = catalog.DefaultCloudAccent
	}
	if !catalog.IsCloudAccent(config.DefaultVoice) {
		return nil, fmt.Errorf("%w: accent %q", ErrInvalidVoice, config.DefaultVoice)
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = log.Default()
	}

	// Burst covers one long message split into several chunks.
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 5)

	return &GTTSEngine{
		endpoint:     config.Endpoint,
		client:       config.HTTPClient,
		timeout:      config.Timeout,
		retryBackoff: config.RetryBackoff,
		userAgent:    config.UserAgent,
		defaultVoice: config.DefaultVoice,
		log:          logger,
		rateLimiter:  limiter,
	}, nil
}

// Kind identifies the cloud variant.
func (e *GTTSEngine) Kind() ttypes.EngineKind { return ttypes.EngineCloud }

// DefaultVoice returns the built-in accent domain.
func (e *GTTSEngine) DefaultVoice() string { return e.defaultVoice }

// Capabilities reports speed support and optimistic availability.
func (e *GTTSEngine) Capabilities() ttypes.Capabilities {
	return ttypes.Capabilities{Speed: true, ProbeAvailability: false, Format: ttypes.FormatMP3}
}

// IsAvailable is optimistic: there is no cheap probe, failures surface
// from Synthesize.
func (e *GTTSEngine) IsAvailable(context.Context) bool { return true }

// ListVoices returns the accent table. An unsupported language yields
// an error rather than voices that would speak something else.
func (e *GTTSEngine) ListVoices(_ context.Context, language string) ([]ttypes.VoiceDescriptor, error) {
	if language != "" && !catalog.CloudSupports(language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return catalog.CloudVoices(), nil
}

// Synthesize converts text to MP3. Long text is split into chunks whose
// MP3 streams are concatenated.
func (e *GTTSEngine) Synthesize(ctx context.Context, text, language, voice string, speed float64) ([]byte, ttypes.AudioFormat, error) {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, "", ErrEmptyText
	}

	lang := catalog.NormalizeLanguage(language)
	if !catalog.CloudSupports(lang) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	if voice == "" {
		voice = e.defaultVoice
	}
	if !catalog.IsCloudAccent(voice) {
		return nil, "", fmt.Errorf("%w: accent %q", ErrInvalidVoice, voice)
	}

	var buf bytes.Buffer
	for i, chunk := range chunks {
		audio, err := e.fetchWithRetry(ctx, chunkRequest{
			text:  chunk,
			lang:  lang,
			tld:   voice,
			speed: speed,
			idx:   i,
			total: len(chunks),
		})
		if err != nil {
			return nil, "", err
		}
		buf.Write(audio)
	}

	e.log.Debug("gtts synthesized", "lang", lang, "accent", voice, "chunks", len(chunks), "bytes", buf.Len())
	return buf.Bytes(), ttypes.FormatMP3, nil
}

type chunkRequest struct {
	text  string
	lang  string
	tld   string
	speed float64
	idx   int
	total int
}

// fetchWithRetry makes at most two attempts. Only retryable failures get
// the second attempt, after the configured backoff.
func (e *GTTSEngine) fetchWithRetry(ctx context.Context, req chunkRequest) ([]byte, error) {
	audio, err := e.fetchChunk(ctx, req)
	if err == nil || !IsRetryable(err) || ctx.Err() != nil {
		return audio, err
	}

	e.log.Warn("gtts request failed, retrying once", "error", err, "backoff", e.retryBackoff)

	timer := time.NewTimer(e.retryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, transportError(ttypes.EngineCloud, "translate_tts", ctx.Err())
	case <-timer.C:
	}

	return e.fetchChunk(ctx, req)
}

// fetchChunk performs one bounded request.
func (e *GTTSEngine) fetchChunk(ctx context.Context, req chunkRequest) ([]byte, error) {
	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, transportError(ttypes.EngineCloud, "rate_limit", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", req.text)
	params.Set("tl", req.lang)
	params.Set("total", strconv.Itoa(req.total))
	params.Set("idx", strconv.Itoa(req.idx))
	params.Set("textlen", strconv.Itoa(len([]rune(req.text))))
	if req.speed > 0 && req.speed != 1 {
		params.Set("ttsspeed", strconv.FormatFloat(req.speed, 'f', 2, 64))
	}

	endpoint := e.endpoint
	if strings.Contains(endpoint, "%s") {
		endpoint = fmt.Sprintf(endpoint, req.tld)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Engine: ttypes.EngineCloud, Op: "translate_tts", Err: err}
	}
	httpReq.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ttypes.EngineCloud, "translate_tts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ttypes.EngineCloud, "translate_tts", resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ttypes.EngineCloud, "translate_tts", err)
	}
	if len(audio) == 0 {
		return nil, &Error{Engine: ttypes.EngineCloud, Op: "translate_tts", Retryable: true, Err: fmt.Errorf("empty response")}
	}
	return audio, nil
}

// splitText cuts text into chunks of at most limit runes, preferring to
// break after whitespace or sentence punctuation in the second half of a
// window.
func splitText(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		cut := limit
		for i := limit; i > limit/2; i-- {
			if isBreak(runes[i-1]) {
				cut = i
				break
			}
		}

		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return chunks
}

func isBreak(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '.', ',', '!', '?', ';', ':', '。', '、', '！', '？', '，':
		return true
	}
	return false
}
