package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// DefaultChunkFrames is the number of frames written between cancellation
// checks.
const DefaultChunkFrames = 1024

// preemptWait bounds how long a new session waits for the one it replaced
// to release the device.
const preemptWait = 500 * time.Millisecond

// slot is one of the two configured outputs.
type slot int

const (
	slotPrimary slot = iota
	slotSecondary
)

func (s slot) String() string {
	if s == slotSecondary {
		return "secondary"
	}
	return "primary"
}

func slotsFor(target ttypes.DeviceTarget) []slot {
	switch target {
	case ttypes.TargetSecondary:
		return []slot{slotSecondary}
	case ttypes.TargetBoth:
		return []slot{slotPrimary, slotSecondary}
	default:
		return []slot{slotPrimary}
	}
}

// PlayOptions describe one playback session.
type PlayOptions struct {
	Target ttypes.DeviceTarget
	Volume float64
	// Speed is recorded for the session. It has already been applied at
	// synthesis time by engines that support it.
	Speed     float64
	Primary   *int
	Secondary *int
}

// Handle is a running playback session.
type Handle struct {
	id     uint64
	opts   PlayOptions
	cancel context.CancelFunc

	mu       sync.Mutex
	streams  map[slot]context.CancelFunc
	slotDone map[slot]chan struct{}

	done chan struct{}
	err  error
}

// ID is unique per router.
func (h *Handle) ID() uint64 { return h.id }

// Done is closed when every device of the session has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the first device error. Valid after Done is closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

func (h *Handle) stopSlot(s slot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	cancel, ok := h.streams[s]
	if ok {
		cancel()
		delete(h.streams, s)
	}
	return len(h.streams) == 0
}

// Router owns the per-device playback table. Playing on an occupied device
// preempts the session already there.
type Router struct {
	devices     Backend // indexed devices
	fallback    Backend // default device, may be nil
	chunkFrames int
	log         *log.Logger

	nextID atomic.Uint64

	mu     sync.Mutex
	active map[slot]*Handle
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Devices opens indexed devices
	Devices Backend

	// Fallback opens the default device; Devices is used when nil
	Fallback Backend

	// ChunkFrames - defaults to 1024
	ChunkFrames int
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig, logger *log.Logger) (*Router, error) {
	if cfg.Devices == nil && cfg.Fallback == nil {
		return nil, errors.New("router needs at least one backend")
	}
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = DefaultChunkFrames
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		devices:     cfg.Devices,
		fallback:    cfg.Fallback,
		chunkFrames: cfg.ChunkFrames,
		log:         logger,
		active:      map[slot]*Handle{},
	}, nil
}

// Devices lists indexed playback devices of one host API, or all of them
// when host is empty.
func (r *Router) Devices(host string) ([]DeviceInfo, error) {
	b := r.devices
	if b == nil {
		b = r.fallback
	}
	devices, err := b.Devices()
	if err != nil {
		return nil, err
	}
	return filterHost(devices, host), nil
}

// Play decodes audio and starts it on the target devices. It returns once
// the sinks are open; playback continues in the background until it ends,
// is stopped, or ctx is cancelled.
func (r *Router) Play(ctx context.Context, audio []byte, format ttypes.AudioFormat, opts PlayOptions) (*Handle, error) {
	pcm, err := Decode(audio, format)
	if err != nil {
		return nil, err
	}
	if opts.Target == "" {
		opts.Target = ttypes.TargetPrimary
	}
	opts.Volume = min(max(opts.Volume, 0), 1)

	slots := slotsFor(opts.Target)
	sinks := make(map[slot]Sink, len(slots))
	for _, s := range slots {
		device := opts.Primary
		if s == slotSecondary {
			device = opts.Secondary
		}
		sink, err := r.open(device, pcm.Format())
		if err != nil {
			for _, open := range sinks {
				_ = open.Close()
			}
			return nil, fmt.Errorf("open %s device: %w", s, err)
		}
		sinks[s] = sink
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:       r.nextID.Add(1),
		opts:     opts,
		cancel:   cancel,
		streams:  make(map[slot]context.CancelFunc, len(slots)),
		slotDone: make(map[slot]chan struct{}, len(slots)),
		done:     make(chan struct{}),
	}
	streamCtx := make(map[slot]context.Context, len(slots))
	for _, s := range slots {
		sctx, scancel := context.WithCancel(ctx)
		streamCtx[s] = sctx
		h.streams[s] = scancel
		h.slotDone[s] = make(chan struct{})
	}

	r.mu.Lock()
	var previous []<-chan struct{}
	for _, s := range slots {
		if old, ok := r.active[s]; ok {
			if old.stopSlot(s) {
				old.cancel()
			}
			previous = append(previous, old.slotDone[s])
		}
		r.active[s] = h
	}
	r.mu.Unlock()

	r.log.Debug("playback started", "id", h.id, "target", opts.Target, "volume", opts.Volume,
		"duration", pcm.Duration(), "preempted", len(previous))

	go r.run(h, pcm, sinks, streamCtx, previous)
	return h, nil
}

// open resolves a device index, falling back to the default device when
// the index is unknown or cannot be opened.
func (r *Router) open(device *int, format Format) (Sink, error) {
	if device != nil && r.devices != nil {
		sink, err := r.devices.Open(device, format)
		if err == nil {
			return sink, nil
		}
		r.log.Warn("audio device unavailable, using default", "index", *device, "error", err)
	}

	if r.fallback != nil {
		return r.fallback.Open(nil, format)
	}
	return r.devices.Open(nil, format)
}

// run streams to every sink. All sinks are open before any starts, so the
// devices begin within one scheduling interval of each other.
func (r *Router) run(h *Handle, pcm PCM, sinks map[slot]Sink, streamCtx map[slot]context.Context, previous []<-chan struct{}) {
	defer close(h.done)
	defer h.cancel()

	for _, done := range previous {
		select {
		case <-done:
		case <-time.After(preemptWait):
			r.log.Warn("preempted playback did not stop in time", "id", h.id)
		}
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		start = make(chan struct{})
	)
	for s, sink := range sinks {
		s, sink := s, sink
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(h.slotDone[s])
			defer sink.Close()

			<-start
			if err := r.stream(streamCtx[s], pcm, sink, h.opts.Volume); err != nil {
				errMu.Lock()
				if h.err == nil {
					h.err = fmt.Errorf("%s device: %w", s, err)
				}
				errMu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	r.mu.Lock()
	for s := range sinks {
		if r.active[s] == h {
			delete(r.active, s)
		}
	}
	r.mu.Unlock()

	if h.err != nil {
		r.log.Warn("playback failed", "id", h.id, "error", h.err)
		return
	}
	r.log.Debug("playback finished", "id", h.id)
}

// stream writes chunks until the end or cancellation, checked between
// chunks.
func (r *Router) stream(ctx context.Context, pcm PCM, sink Sink, volume float64) error {
	if f := sink.Format(); f != pcm.Format() {
		pcm = Resample(pcm, f)
	}

	for _, chunk := range pcm.Chunks(r.chunkFrames) {
		if ctx.Err() != nil {
			return nil
		}
		if err := sink.Write(ApplyVolume(chunk, volume)); err != nil {
			return err
		}
	}

	if err := sink.Drain(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Stop cancels a session on every device. Safe to call at any time.
func (r *Router) Stop(h *Handle) {
	if h == nil {
		return
	}
	h.cancel()
}

// StopTarget cancels whatever plays on the target devices. A session
// covering both devices keeps playing on the one not targeted.
func (r *Router) StopTarget(target ttypes.DeviceTarget) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stopped := 0
	for _, s := range slotsFor(target) {
		h, ok := r.active[s]
		if !ok {
			continue
		}
		if h.stopSlot(s) {
			h.cancel()
		}
		delete(r.active, s)
		stopped++
	}
	return stopped
}

// StopAll cancels every session. It is a no-op when nothing plays.
func (r *Router) StopAll() int {
	return r.StopTarget(ttypes.TargetBoth)
}

// Active reports the targets currently playing.
func (r *Router) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, s := range []slot{slotPrimary, slotSecondary} {
		if _, ok := r.active[s]; ok {
			out = append(out, s.String())
		}
	}
	return out
}

// Close stops playback and releases the backends.
func (r *Router) Close() error {
	r.StopAll()
	var errs []error
	if r.devices != nil {
		errs = append(errs, r.devices.Close())
	}
	if r.fallback != nil {
		errs = append(errs, r.fallback.Close())
	}
	return errors.Join(errs...)
}
