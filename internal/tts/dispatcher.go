// Package tts is the request dispatcher: it turns one inbound command into
// one response, choosing text, language, engine and voice, serving audio
// from the cache or an engine, and handing it to local playback.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"golang.org/x/sync/singleflight"

	"github.com/vrct-tts/connector/internal/audio"
	"github.com/vrct-tts/connector/internal/cache"
	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/history"
	"github.com/vrct-tts/connector/internal/protocol"
	"github.com/vrct-tts/connector/internal/settings"
	"github.com/vrct-tts/connector/internal/telemetry"
	"github.com/vrct-tts/connector/internal/ttypes"
)

// Player plays audio on local output devices. *audio.Router implements it.
type Player interface {
	Play(ctx context.Context, data []byte, format ttypes.AudioFormat, opts audio.PlayOptions) (*audio.Handle, error)
	StopTarget(target ttypes.DeviceTarget) int
	StopAll() int
}

// Recorder keeps the outcome of each synthesis. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, r history.Record) error
}

// Options wires the dispatcher's collaborators.
type Options struct {
	Settings *settings.Store
	Cache    cache.Store
	Engines  map[ttypes.EngineKind]ttypes.Engine
	Catalog  *catalog.Catalog

	// Player is nil when local playback is unavailable
	Player Player

	// History and Metrics are optional
	History Recorder
	Metrics *telemetry.Metrics

	Logger *log.Logger
}

// Result is the reply to one command. Audio is set only for a successful
// SYNTHESIZE and is sent as a binary frame right after the response.
type Result struct {
	Response protocol.Response
	Audio    []byte
}

// Dispatcher handles commands. It is safe for concurrent use; requests
// share nothing but the cache, the settings store and the player.
type Dispatcher struct {
	settings *settings.Store
	cache    cache.Store
	engines  map[ttypes.EngineKind]ttypes.Engine
	catalog  *catalog.Catalog
	player   Player
	history  Recorder
	metrics  *telemetry.Metrics
	log      *log.Logger

	// flights coalesces concurrent misses of one cache key
	flights singleflight.Group

	playing sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Settings == nil {
		return nil, errors.New("dispatcher needs a settings store")
	}
	if opts.Cache == nil {
		return nil, errors.New("dispatcher needs a cache")
	}
	if len(opts.Engines) == 0 {
		return nil, errors.New("dispatcher needs at least one engine")
	}
	for kind, e := range opts.Engines {
		if e == nil || e.Kind() != kind {
			return nil, fmt.Errorf("engine registered as %s is %v", kind, e)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.New(opts.Engines[ttypes.EngineLocal], logger)
	}

	return &Dispatcher{
		settings: opts.Settings,
		cache:    opts.Cache,
		engines:  opts.Engines,
		catalog:  cat,
		player:   opts.Player,
		history:  opts.History,
		metrics:  opts.Metrics,
		log:      logger,
	}, nil
}

// Handle processes one raw text frame. It never fails: every error is
// turned into an error response carrying the request id when known.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) Result {
	req, err := protocol.Parse(raw)

	var res Result
	if err == nil {
		res, err = d.dispatch(ctx, req)
	}
	if err != nil {
		res = Result{Response: d.failure(req, err)}
	}

	command := string(req.Cmd())
	if command == "" {
		command = "INVALID"
	}
	d.metrics.RecordRequest(ctx, command, string(res.Response.Status))
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, req protocol.Request) (Result, error) {
	switch req.Cmd() {
	case protocol.CommandSynthesize:
		return d.synthesizeAndRecord(ctx, req)
	case protocol.CommandGetVoices:
		return d.getVoices(ctx, req)
	case protocol.CommandStop:
		return d.stop(req)
	case protocol.CommandSetDefaultVoice:
		return d.setDefaultVoice(req)
	case protocol.CommandSetGlobalSettings:
		return d.setGlobalSettings(req)
	default:
		return Result{}, fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, req.Command)
	}
}

func (d *Dispatcher) failure(req protocol.Request, err error) protocol.Response {
	e := Classify(err)

	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	switch e.Kind {
	case KindInternal, KindSynthesis:
		d.log.Warn("request failed", "id", req.RequestID, "command", req.Command, "kind", e.Kind, "error", err)
	default:
		d.log.Debug("request rejected", "id", req.RequestID, "command", req.Command, "kind", e.Kind, "error", err)
	}
	return protocol.Failure(req.RequestID, e.Code(), msg)
}

// synthesis collects what was resolved for one request, for the response,
// the history log and playback.
type synthesis struct {
	text     string
	language string
	kind     ttypes.EngineKind
	voice    string
	speed    float64
	cached   bool
	entry    cache.Entry
}

func (d *Dispatcher) synthesizeAndRecord(ctx context.Context, req protocol.Request) (Result, error) {
	start := time.Now()
	syn, err := d.synthesize(ctx, req)

	rec := history.Record{
		RequestID: string(req.RequestID),
		Command:   string(req.Cmd()),
		Engine:    string(syn.kind),
		Language:  syn.language,
		Voice:     syn.voice,
		Text:      syn.text,
		CacheHit:  syn.cached,
		Bytes:     len(syn.entry.Audio),
		Duration:  time.Since(start),
		CreatedAt: start,
	}
	if err != nil {
		rec.Code = Classify(err).Code()
	}
	d.record(ctx, rec)

	if err != nil {
		return Result{}, err
	}

	s := d.settings.Snapshot()
	playing := s.PlaybackEnabled
	if req.Play != nil {
		playing = *req.Play
	}
	playing = playing && d.play(ctx, syn, s)

	d.log.Info("synthesized", "id", req.RequestID, "engine", syn.kind, "voice", syn.voice,
		"lang", syn.language, "cached", syn.cached, "size", humanize.Bytes(uint64(len(syn.entry.Audio))),
		"text", preview(syn.text))

	data := protocol.SynthesisData{
		AudioFormat: string(syn.entry.Format),
		Engine:      string(syn.kind),
		Voice:       syn.voice,
		Language:    syn.language,
		Bytes:       len(syn.entry.Audio),
		Cached:      syn.cached,
		Playing:     playing,
		Speed:       syn.speed,
	}
	return Result{
		Response: protocol.Success(req.RequestID, "synthesized", data),
		Audio:    syn.entry.Audio,
	}, nil
}

// synthesize resolves the request and returns its audio. The partially
// filled synthesis is returned alongside an error for logging.
func (d *Dispatcher) synthesize(ctx context.Context, req protocol.Request) (synthesis, error) {
	var syn synthesis
	s := d.settings.Snapshot()

	utt, err := req.Utterance()
	if err != nil {
		return syn, err
	}
	syn.text = utt.Text
	syn.language = resolveLanguage(utt.Language, s)

	engine, err := d.resolveEngine(ctx, req.Engine, syn.language, s)
	if err != nil {
		return syn, err
	}
	syn.kind = engine.Kind()

	syn.voice = d.resolveVoice(engine, req.VoiceSelector(), syn.language, s)
	if syn.speed, err = resolveSpeed(req.Speed, engine, s); err != nil {
		return syn, err
	}

	key := cache.Key(cache.KeyParts{
		Engine:       syn.kind,
		Text:         syn.text,
		Language:     syn.language,
		Voice:        syn.voice,
		Speed:        syn.speed,
		SpeedApplies: engine.Capabilities().Speed,
	})

	syn.entry, syn.cached, err = d.fetch(ctx, key, engine, syn)
	return syn, err
}

// fetch serves key from the cache, or synthesizes and stores it. Concurrent
// misses of one key share a single engine call.
func (d *Dispatcher) fetch(ctx context.Context, key string, engine ttypes.Engine, syn synthesis) (cache.Entry, bool, error) {
	if entry, level, ok := d.cache.Get(key); ok {
		d.metrics.RecordCacheLookup(ctx, level.String())
		return entry, true, nil
	}
	d.metrics.RecordCacheLookup(ctx, cache.LevelMiss.String())

	// The engine call outlives any single caller: others may be waiting
	// on it. Engines bound it with their own timeouts.
	flightCtx := context.WithoutCancel(ctx)

	v, err, shared := d.flights.Do(key, func() (any, error) {
		if entry, _, ok := d.cache.Get(key); ok {
			return entry, nil
		}

		start := time.Now()
		data, format, err := engine.Synthesize(flightCtx, syn.text, syn.language, syn.voice, syn.speed)
		d.metrics.RecordSynthesis(flightCtx, string(syn.kind), time.Since(start))
		if err != nil {
			return nil, err
		}

		entry := cache.Entry{Audio: data, Format: format, CreatedAt: time.Now()}
		stored, err := d.cache.Put(key, entry)
		if err != nil {
			d.log.Warn("could not cache audio", "engine", syn.kind, "error", err)
			return entry, nil
		}
		return stored, nil
	})
	if err != nil {
		return cache.Entry{}, false, err
	}
	if shared {
		d.log.Debug("joined in-flight synthesis", "engine", syn.kind, "text", preview(syn.text))
	}
	return v.(cache.Entry), false, nil
}

// play starts local playback in the background. It reports whether
// playback was submitted.
func (d *Dispatcher) play(ctx context.Context, syn synthesis, s settings.Settings) bool {
	if d.player == nil {
		return false
	}

	opts := audio.PlayOptions{
		Target:    s.DeviceTarget,
		Volume:    s.Volume,
		Speed:     syn.speed,
		Primary:   s.PrimaryDevice,
		Secondary: s.SecondaryDevice,
	}
	// Playback continues after the response is sent and the request
	// context ends.
	playCtx := context.WithoutCancel(ctx)

	d.playing.Add(1)
	go func() {
		defer d.playing.Done()

		h, err := d.player.Play(playCtx, syn.entry.Audio, syn.entry.Format, opts)
		if err != nil {
			d.log.Warn("playback failed", "target", opts.Target, "error", err)
			return
		}
		d.metrics.RecordPlayback(playCtx, string(opts.Target))
		d.log.Debug("playback submitted", "session", h.ID(), "target", opts.Target, "volume", opts.Volume)
	}()
	return true
}

func (d *Dispatcher) record(ctx context.Context, rec history.Record) {
	if d.history == nil {
		return
	}
	if err := d.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		d.log.Warn("could not record history", "id", rec.RequestID, "error", err)
	}
}

// Wait blocks until every submitted playback has been handed to the
// player.
func (d *Dispatcher) Wait() {
	d.playing.Wait()
}

// Catalog returns the voice catalog the dispatcher validates against.

// preview shortens text for logs by display width.
func preview(text string) string {
	return runewidth.Truncate(text, 40, "…")
}
