package audio

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var (
	// ErrNoBackend indicates the binary was built without audio support
	ErrNoBackend = errors.New("audio output not available in this build")

	// ErrDeviceNotFound indicates a device index is not present
	ErrDeviceNotFound = errors.New("audio device not found")

	// ErrSinkClosed indicates a write after the sink was closed
	ErrSinkClosed = errors.New("audio sink closed")
)

// DeviceInfo describes one playback device.
type DeviceInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Default bool   `json:"default"`
}

// Backend opens playback sinks. A nil device selects the platform default.
type Backend interface {
	Name() string
	Devices() ([]DeviceInfo, error)
	Open(device *int, format Format) (Sink, error)
	Close() error
}

// Sink is one open playback stream. Write blocks until the device has room
// for the chunk, which paces callers at playback speed.
type Sink interface {
	// Format is the layout the sink expects. It may differ from the one
	// requested in Open.
	Format() Format
	Write(chunk []byte) error
	// Drain waits until everything written has been played.
	Drain(ctx context.Context) error
	Close() error
}

// GroupByHost buckets devices by host API, keeping index order.
func GroupByHost(devices []DeviceInfo) ([]string, map[string][]DeviceInfo) {
	groups := map[string][]DeviceInfo{}
	var hosts []string
	for _, d := range devices {
		if _, ok := groups[d.Host]; !ok {
			hosts = append(hosts, d.Host)
		}
		groups[d.Host] = append(groups[d.Host], d)
	}
	for _, h := range hosts {
		slices.SortFunc(groups[h], func(a, b DeviceInfo) int { return a.Index - b.Index })
	}
	return hosts, groups
}

// filterHost keeps the devices of one host API; an empty host keeps all.
func filterHost(devices []DeviceInfo, host string) []DeviceInfo {
	if host == "" {
		return devices
	}
	var out []DeviceInfo
	for _, d := range devices {
		if strings.EqualFold(d.Host, host) {
			out = append(out, d)
		}
	}
	return out
}
