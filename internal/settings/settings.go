// Package settings owns the process-wide defaults the dispatcher reads on
// every request: engine, voices, language, playback devices and levels.
// Changes made over the wire are written through to a YAML file, and
// edits made to that file by other tools are picked up while running.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/ttypes"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Bounds for the playback levels.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// EngineRule routes a language to an engine when a request names none.
// Voice, when set, overrides the engine's default voice for that language.
type EngineRule struct {
	Language string            `yaml:"language"`
	Engine   ttypes.EngineKind `yaml:"engine"`
	Voice    string            `yaml:"voice,omitempty"`
}

// Settings is one immutable snapshot. Mutate only through Store.Update.
type Settings struct {
	DefaultEngine   ttypes.EngineKind            `yaml:"default_engine"`
	DefaultLanguage string                       `yaml:"default_language"`
	Voices          map[ttypes.EngineKind]string `yaml:"voices"`
	EngineRules     []EngineRule                 `yaml:"engine_rules"`

	DeviceTarget    ttypes.DeviceTarget `yaml:"device_target"`
	PrimaryDevice   *int                `yaml:"primary_device,omitempty"`
	SecondaryDevice *int                `yaml:"secondary_device,omitempty"`
	HostName        string              `yaml:"host_name,omitempty"`

	Volume          float64 `yaml:"volume"`
	Speed           float64 `yaml:"speed"`
	PlaybackEnabled bool    `yaml:"playback_enabled"`
}

// Defaults returns the settings used when no file exists.
func Defaults() Settings {
	return Settings{
		DefaultEngine:   ttypes.EngineCloud,
		DefaultLanguage: "en",
		Voices: map[ttypes.EngineKind]string{
			ttypes.EngineLocal: "1",
			ttypes.EngineCloud: catalog.DefaultCloudAccent,
		},
		EngineRules:  []EngineRule{{Language: "ja", Engine: ttypes.EngineLocal}},
		DeviceTarget: ttypes.TargetPrimary,
		Volume:       0.8,
		Speed:        1.0,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.Voices = maps.Clone(s.Voices)
	c.EngineRules = slices.Clone(s.EngineRules)
	if s.PrimaryDevice != nil {
		v := *s.PrimaryDevice
		c.PrimaryDevice = &v
	}
	if s.SecondaryDevice != nil {
		v := *s.SecondaryDevice
		c.SecondaryDevice = &v
	}
	return c
}

// VoiceFor returns the configured default voice of an engine, or "".
func (s Settings) VoiceFor(kind ttypes.EngineKind) string {
	return s.Voices[kind]
}

// EngineFor returns the engine a language rule routes to.
func (s Settings) EngineFor(language string) (ttypes.EngineKind, bool) {
	r, ok := s.RuleFor(language)
	return r.Engine, ok
}

// RuleFor returns the language rule matching language. An exact tag match
// wins over a base language match.
func (s Settings) RuleFor(language string) (EngineRule, bool) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return EngineRule{}, false
	}
	for _, r := range s.EngineRules {
		if strings.EqualFold(r.Language, lang) {
			return r, true
		}
	}
	base, _, _ := strings.Cut(strings.ReplaceAll(lang, "_", "-"), "-")
	for _, r := range s.EngineRules {
		if strings.EqualFold(r.Language, base) {
			return r, true
		}
	}
	return EngineRule{}, false
}

// Validate checks every field. It reports the first problem found.
func (s Settings) Validate() error {
	if s.DefaultEngine != ttypes.EngineLocal && s.DefaultEngine != ttypes.EngineCloud {
		return fmt.Errorf("%w: default_engine %q", ErrInvalid, s.DefaultEngine)
	}
	if strings.TrimSpace(s.DefaultLanguage) == "" {
		return fmt.Errorf("%w: default_language is empty", ErrInvalid)
	}
	for kind := range s.Voices {
		if kind != ttypes.EngineLocal && kind != ttypes.EngineCloud {
			return fmt.Errorf("%w: voice for unknown engine %q", ErrInvalid, kind)
		}
	}
	for _, r := range s.EngineRules {
		if r.Language == "" || (r.Engine != ttypes.EngineLocal && r.Engine != ttypes.EngineCloud) {
			return fmt.Errorf("%w: engine rule %s -> %q", ErrInvalid, r.Language, r.Engine)
		}
	}
	if _, err := ttypes.ParseDeviceTarget(string(s.DeviceTarget)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.PrimaryDevice != nil && *s.PrimaryDevice < 0 {
		return fmt.Errorf("%w: primary_device %d", ErrInvalid, *s.PrimaryDevice)
	}
	if s.SecondaryDevice != nil && *s.SecondaryDevice < 0 {
		return fmt.Errorf("%w: secondary_device %d", ErrInvalid, *s.SecondaryDevice)
	}
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("%w: volume must be between 0 and 1, got %.2f", ErrInvalid, s.Volume)
	}
	if s.Speed < MinSpeed || s.Speed > MaxSpeed {
		return fmt.Errorf("%w: speed must be between %.2f and %.1f, got %.2f", ErrInvalid, MinSpeed, MaxSpeed, s.Speed)
	}
	return nil
}

// fillDefaults completes a partially written file.
func (s *Settings) fillDefaults() {
	d := Defaults()
	if s.DefaultEngine == ttypes.EngineNone {
		s.DefaultEngine = d.DefaultEngine
	}
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = d.DefaultLanguage
	}
	if s.Voices == nil {
		s.Voices = map[ttypes.EngineKind]string{}
	}
	for kind, voice := range d.Voices {
		if s.Voices[kind] == "" {
			s.Voices[kind] = voice
		}
	}
	if s.EngineRules == nil {
		s.EngineRules = d.EngineRules
	}
	if s.DeviceTarget == "" {
		s.DeviceTarget = d.DeviceTarget
	}
	if s.Speed == 0 {
		s.Speed = d.Speed
	}
}
