package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBackend implements Backend without producing sound. Each write
// sleeps for ChunkDelay to simulate a device consuming audio in real time.
type MockBackend struct {
	DeviceList []DeviceInfo
	ChunkDelay time.Duration

	// OpenErr fails every Open when set
	OpenErr error

	mu    sync.Mutex
	sinks []*MockSink
}

// NewMockBackend creates a backend with n devices on a "Mock" host.
func NewMockBackend(n int, chunkDelay time.Duration) *MockBackend {
	mb := &MockBackend{ChunkDelay: chunkDelay}
	for i := 0; i < n; i++ {
		mb.DeviceList = append(mb.DeviceList, DeviceInfo{
			Index:   i,
			Name:    fmt.Sprintf("Mock Device %d", i),
			Host:    "Mock",
			Default: i == 0,
		})
	}
	return mb
}

func (mb *MockBackend) Name() string { return "mock" }

func (mb *MockBackend) Devices() ([]DeviceInfo, error) {
	return append([]DeviceInfo(nil), mb.DeviceList...), nil
}

// Open returns a sink for the device; -1 is recorded for the default.
func (mb *MockBackend) Open(device *int, format Format) (Sink, error) {
	if mb.OpenErr != nil {
		return nil, mb.OpenErr
	}

	index := -1
	if device != nil {
		if *device < 0 || *device >= len(mb.DeviceList) {
			return nil, fmt.Errorf("%w: index %d", ErrDeviceNotFound, *device)
		}
		index = *device
	}

	sink := &MockSink{device: index, format: format, delay: mb.ChunkDelay}
	mb.mu.Lock()
	mb.sinks = append(mb.sinks, sink)
	mb.mu.Unlock()
	return sink, nil
}

func (mb *MockBackend) Close() error { return nil }

// Sinks returns every sink opened so far, in order.
func (mb *MockBackend) Sinks() []*MockSink {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return append([]*MockSink(nil), mb.sinks...)
}

// MockSink records what was written to it.
type MockSink struct {
	device int
	format Format
	delay  time.Duration

	mu         sync.Mutex
	data       []byte
	writes     int
	firstWrite time.Time
	lastWrite  time.Time
	drained    bool
	closed     bool
}

func (ms *MockSink) Format() Format { return ms.format }

func (ms *MockSink) Write(chunk []byte) error {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return ErrSinkClosed
	}
	if ms.writes == 0 {
		ms.firstWrite = time.Now()
	}
	ms.writes++
	ms.data = append(ms.data, chunk...)
	ms.mu.Unlock()

	// Simulate the device playing the chunk.
	time.Sleep(ms.delay)

	ms.mu.Lock()
	ms.lastWrite = time.Now()
	ms.mu.Unlock()
	return nil
}

func (ms *MockSink) Drain(context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.drained = true
	return nil
}

func (ms *MockSink) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

// Device is the opened index, or -1 for the default device.
func (ms *MockSink) Device() int { return ms.device }

// Writes is the number of chunks written.
func (ms *MockSink) Writes() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.writes
}

// Data returns a copy of everything written.
func (ms *MockSink) Data() []byte {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]byte(nil), ms.data...)
}

// FirstWrite is when the first chunk arrived.
func (ms *MockSink) FirstWrite() time.Time {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.firstWrite
}

// Drained reports whether playback ran to the end.
func (ms *MockSink) Drained() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.drained
}

// Closed reports whether the sink was released.
func (ms *MockSink) Closed() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.closed
}
