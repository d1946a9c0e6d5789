//go:build !nocgo
// +build !nocgo

package audio

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process, so its format is fixed and
// everything played through it is resampled to match.
var otoFormat = Format{SampleRate: 48000, Channels: 2}

// OtoBackend plays to the platform default output through a single oto
// context.
type OtoBackend struct {
	log *log.Logger

	once    sync.Once
	context *oto.Context
	initErr error
}

// NewOtoBackend creates the backend. The context is created on first Open.
func NewOtoBackend(logger *log.Logger) *OtoBackend {
	if logger == nil {
		logger = log.Default()
	}
	return &OtoBackend{log: logger}
}

// Name identifies the backend in logs.
func (b *OtoBackend) Name() string { return "oto" }

// Devices reports the single default device.
func (b *OtoBackend) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{Index: 0, Name: "System default", Host: "default", Default: true}}, nil
}

func (b *OtoBackend) init() error {
	b.once.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   otoFormat.SampleRate,
			ChannelCount: otoFormat.Channels,
			Format:       oto.FormatSignedInt16LE,
		}

		// Platform-specific buffer size adjustments
		switch runtime.GOOS {
		case "darwin":
			op.BufferSize = 100 * time.Millisecond
		case "windows":
			op.BufferSize = 80 * time.Millisecond
		default:
			op.BufferSize = 50 * time.Millisecond
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			b.initErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}

		select {
		case <-readyChan:
			b.context = ctx
			b.log.Debug("oto context ready", "sample_rate", op.SampleRate, "buffer", op.BufferSize)
		case <-time.After(5 * time.Second):
			b.initErr = fmt.Errorf("audio context initialization timeout")
		}
	})
	return b.initErr
}

// Open creates a player on the default device. The device argument is
// ignored and the requested format is replaced by the context format.
func (b *OtoBackend) Open(_ *int, _ Format) (Sink, error) {
	if err := b.init(); err != nil {
		return nil, err
	}

	src := &chunkReader{queue: make(chan []byte, sinkQueueDepth), closed: make(chan struct{})}
	player := b.context.NewPlayer(src)
	if player == nil {
		return nil, fmt.Errorf("failed to create oto player")
	}
	player.Play()

	return &otoSink{player: player, src: src}, nil
}

// Close is a no-op: oto v3 contexts cannot be closed.
func (b *OtoBackend) Close() error { return nil }

// otoSink adapts an oto player to Sink.
type otoSink struct {
	player    *oto.Player
	src       *chunkReader
	closeOnce sync.Once
}

func (s *otoSink) Format() Format { return otoFormat }

func (s *otoSink) Write(chunk []byte) error { return s.src.push(chunk) }

// Drain marks the end of the stream and polls until the player stops.
func (s *otoSink) Drain(ctx context.Context) error {
	s.src.finishing.Store(true)

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	for s.player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *otoSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.src.close()
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}

// chunkReader is the io.Reader oto pulls from. It never blocks: when no
// chunk is queued it returns zero bytes, and io.EOF once finished.
type chunkReader struct {
	queue     chan []byte
	pending   []byte
	finishing atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (r *chunkReader) push(chunk []byte) error {
	select {
	case r.queue <- chunk:
		return nil
	case <-r.closed:
		return ErrSinkClosed
	}
}

func (r *chunkReader) close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

func (r *chunkReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			select {
			case chunk := <-r.queue:
				r.pending = chunk
				continue
			default:
			}
			break
		}
		k := copy(p[n:], r.pending)
		r.pending = r.pending[k:]
		n += k
	}

	if n == 0 && (r.finishing.Load() || isClosed(r.closed)) {
		return 0, io.EOF
	}
	return n, nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
