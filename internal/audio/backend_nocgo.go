//go:build nocgo
// +build nocgo

package audio

import "github.com/charmbracelet/log"

// MalgoBackend is unavailable without cgo.
type MalgoBackend struct{ unavailable }

// NewMalgoBackend always fails in builds without cgo.
func NewMalgoBackend(*log.Logger) (*MalgoBackend, error) { return nil, ErrNoBackend }

// OtoBackend is unavailable without cgo.
type OtoBackend struct{ unavailable }

// NewOtoBackend returns a backend whose Open always fails.
func NewOtoBackend(*log.Logger) *OtoBackend { return &OtoBackend{} }

type unavailable struct{}

func (unavailable) Name() string                    { return "none" }
func (unavailable) Devices() ([]DeviceInfo, error)  { return nil, ErrNoBackend }
func (unavailable) Open(*int, Format) (Sink, error) { return nil, ErrNoBackend }
func (unavailable) Close() error                    { return nil }
