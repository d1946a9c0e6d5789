// Package ttypes contains shared types and interfaces for the connector.
// This package is used to break import cycles between tts, engines, cache, catalog and audio packages.
package ttypes

import (
	"context"
	"fmt"
	"strings"
)

// EngineKind selects which engine adapter and voice catalog subset applies.
type EngineKind string

const (
	// EngineLocal is the same-host VOICEVOX engine.
	EngineLocal EngineKind = "voicevox"

	// EngineCloud is the Google translate TTS service.
	EngineCloud EngineKind = "gtts"

	// EngineNone means no engine was requested.
	EngineNone EngineKind = ""
)

// ParseEngineKind accepts the engine names used by VRCT clients and the
// settings file. Matching is case-insensitive.
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return EngineNone, nil
	case "voicevox", "local":
		return EngineLocal, nil
	case "gtts", "google", "cloud":
		return EngineCloud, nil
	default:
		return EngineNone, fmt.Errorf("unknown engine %q", s)
	}
}

// String returns the engine name as it appears on the wire.
func (k EngineKind) String() string {
	if k == EngineNone {
		return "none"
	}
	return string(k)
}

// AudioFormat tags the container of synthesized audio bytes.
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatMP3 AudioFormat = "mp3"
)

// AnyLanguage is the VoiceDescriptor language sentinel for voices that
// apply to every language the engine supports.
const AnyLanguage = "*"

// VoiceDescriptor describes one selectable voice of an engine.
type VoiceDescriptor struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"name"`
	LanguageTag string     `json:"language"`
	Engine      EngineKind `json:"engine"`
}

// Matches reports whether the voice can speak the given language.
func (v VoiceDescriptor) Matches(lang string) bool {
	return v.LanguageTag == AnyLanguage || lang == "" || strings.EqualFold(v.LanguageTag, lang)
}

// DeviceTarget selects the physical outputs used for a playback session.
type DeviceTarget string

const (
	TargetPrimary   DeviceTarget = "primary"
	TargetSecondary DeviceTarget = "secondary"
	TargetBoth      DeviceTarget = "both"
)

// ParseDeviceTarget parses a device target name.
func ParseDeviceTarget(s string) (DeviceTarget, error) {
	switch DeviceTarget(strings.ToLower(strings.TrimSpace(s))) {
	case TargetPrimary, "":
		return TargetPrimary, nil
	case TargetSecondary:
		return TargetSecondary, nil
	case TargetBoth, "all":
		return TargetBoth, nil
	default:
		return "", fmt.Errorf("unknown device target %q", s)
	}
}

// Capabilities lists what an engine can and cannot do. Gaps are stated
// here instead of being hidden in shared code.
type Capabilities struct {
	// Speed is true when the engine applies speed at synthesis time.
	Speed bool

	// ProbeAvailability is true when IsAvailable performs a real
	// reachability check. When false availability is assumed and only
	// verified by call failure.
	ProbeAvailability bool

	// Format is the container every successful synthesis returns.
	Format AudioFormat
}

// Engine is the common contract of the Local and Cloud adapters.
type Engine interface {
	// Kind identifies the adapter variant.
	Kind() EngineKind

	// Synthesize renders text in the given language and voice.
	Synthesize(ctx context.Context, text, language, voice string, speed float64) ([]byte, AudioFormat, error)

	// ListVoices returns the voices for a language, or all voices when
	// the filter is empty.
	ListVoices(ctx context.Context, language string) ([]VoiceDescriptor, error)

	// IsAvailable reports whether synthesis may be attempted.
	IsAvailable(ctx context.Context) bool

	// Capabilities reports partial-capability limits.
	Capabilities() Capabilities

	// DefaultVoice is used when neither the request nor the settings name one.
	DefaultVoice() string
}
