//go:build !nocgo
// +build !nocgo

package audio

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// hostNames labels miniaudio backends the way users know them.
var hostNames = map[malgo.Backend]string{
	malgo.BackendWasapi:     "WASAPI",
	malgo.BackendDsound:     "DirectSound",
	malgo.BackendWinmm:      "WinMM",
	malgo.BackendCoreaudio:  "CoreAudio",
	malgo.BackendSndio:      "sndio",
	malgo.BackendAudio4:     "audio4",
	malgo.BackendOss:        "OSS",
	malgo.BackendPulseaudio: "PulseAudio",
	malgo.BackendAlsa:       "ALSA",
	malgo.BackendJack:       "JACK",
}

// platformHosts lists the host APIs enumerated on each OS, in the order
// devices are numbered.
func platformHosts() []malgo.Backend {
	switch runtime.GOOS {
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi, malgo.BackendDsound, malgo.BackendWinmm}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	case "linux":
		return []malgo.Backend{malgo.BackendPulseaudio, malgo.BackendAlsa, malgo.BackendJack}
	default:
		return []malgo.Backend{malgo.BackendSndio, malgo.BackendAudio4, malgo.BackendOss}
	}
}

type malgoDevice struct {
	info    DeviceInfo
	backend malgo.Backend
	id      malgo.DeviceID
}

// MalgoBackend plays to indexed devices across every host API miniaudio
// supports on the platform. Indices are stable for the life of the backend.
type MalgoBackend struct {
	log *log.Logger

	mu       sync.Mutex
	contexts map[malgo.Backend]*malgo.AllocatedContext
	devices  []malgoDevice
}

// NewMalgoBackend initializes one context per available host API and
// numbers their playback devices.
func NewMalgoBackend(logger *log.Logger) (*MalgoBackend, error) {
	if logger == nil {
		logger = log.Default()
	}
	b := &MalgoBackend{log: logger, contexts: map[malgo.Backend]*malgo.AllocatedContext{}}

	for _, host := range platformHosts() {
		ctx, err := malgo.InitContext([]malgo.Backend{host}, malgo.ContextConfig{}, nil)
		if err != nil {
			logger.Debug("audio host unavailable", "host", hostNames[host], "error", err)
			continue
		}

		infos, err := ctx.Devices(malgo.Playback)
		if err != nil {
			logger.Debug("could not list devices", "host", hostNames[host], "error", err)
			_ = ctx.Uninit()
			ctx.Free()
			continue
		}

		b.contexts[host] = ctx
		for i := range infos {
			b.devices = append(b.devices, malgoDevice{
				info: DeviceInfo{
					Index:   len(b.devices),
					Name:    infos[i].Name(),
					Host:    hostNames[host],
					Default: infos[i].IsDefault != 0,
				},
				backend: host,
				id:      infos[i].ID,
			})
		}
	}

	if len(b.contexts) == 0 {
		return nil, fmt.Errorf("no audio host API could be initialized")
	}

	logger.Debug("audio devices enumerated", "hosts", len(b.contexts), "devices", len(b.devices))
	return b, nil
}

// Name identifies the backend in logs.
func (b *MalgoBackend) Name() string { return "malgo" }

// Devices returns every playback device.
func (b *MalgoBackend) Devices() ([]DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DeviceInfo, len(b.devices))
	for i, d := range b.devices {
		out[i] = d.info
	}
	return out, nil
}

// Open starts a device at the requested format. A nil device opens the
// default device of the first host API.
func (b *MalgoBackend) Open(device *int, format Format) (Sink, error) {
	b.mu.Lock()
	var (
		ctx *malgo.AllocatedContext
		dev *malgoDevice
	)
	if device != nil {
		if *device < 0 || *device >= len(b.devices) {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: index %d", ErrDeviceNotFound, *device)
		}
		d := b.devices[*device]
		dev = &d
		ctx = b.contexts[d.backend]
	} else {
		for _, host := range platformHosts() {
			if c, ok := b.contexts[host]; ok {
				ctx = c
				break
			}
		}
	}
	b.mu.Unlock()

	if ctx == nil {
		return nil, fmt.Errorf("%w: backend closed", ErrDeviceNotFound)
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(format.Channels)
	config.SampleRate = uint32(format.SampleRate)
	config.Alsa.NoMMap = 1

	sink := &malgoSink{
		format: format,
		queue:  make(chan []byte, sinkQueueDepth),
		idle:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	if dev != nil {
		sink.id = dev.id
		config.Playback.DeviceID = sink.id.Pointer()
	}

	d, err := malgo.InitDevice(ctx.Context, config, malgo.DeviceCallbacks{Data: sink.fill})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := d.Start(); err != nil {
		d.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	sink.device = d
	return sink, nil
}

// Close releases every context.
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for host, ctx := range b.contexts {
		_ = ctx.Uninit()
		ctx.Free()
		delete(b.contexts, host)
	}
	return nil
}

// sinkQueueDepth bounds how far writers run ahead of the device.
const sinkQueueDepth = 2

// malgoSink feeds a device from a queue of chunks. The data callback runs
// on the audio thread and owns pending.
type malgoSink struct {
	device *malgo.Device
	id     malgo.DeviceID
	format Format

	queue   chan []byte
	pending []byte

	finishing atomic.Bool
	idleOnce  sync.Once
	idle      chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *malgoSink) Format() Format { return s.format }

func (s *malgoSink) Write(chunk []byte) error {
	select {
	case s.queue <- chunk:
		return nil
	case <-s.closed:
		return ErrSinkClosed
	}
}

func (s *malgoSink) Drain(ctx context.Context) error {
	s.finishing.Store(true)
	select {
	case <-s.idle:
		return nil
	case <-s.closed:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *malgoSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.device != nil {
			s.device.Uninit()
		}
	})
	return nil
}

// fill is the device data callback. Missing audio is played as silence.
func (s *malgoSink) fill(out, _ []byte, _ uint32) {
	n := 0
	for n < len(out) {
		if len(s.pending) == 0 {
			select {
			case chunk := <-s.queue:
				s.pending = chunk
				continue
			default:
			}
			break
		}
		k := copy(out[n:], s.pending)
		s.pending = s.pending[k:]
		n += k
	}
	clear(out[n:])

	if n < len(out) && s.finishing.Load() {
		s.idleOnce.Do(func() { close(s.idle) })
	}
}
