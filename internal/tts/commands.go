package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/protocol"
	"github.com/vrct-tts/connector/internal/settings"
	"github.com/vrct-tts/connector/internal/ttypes"
)

// getVoices lists the voices of the engine a request resolves to. The
// engine does not need to be reachable: an unreachable local engine
// reports its last known voices with available=false.
func (d *Dispatcher) getVoices(ctx context.Context, req protocol.Request) (Result, error) {
	s := d.settings.Snapshot()

	kind, err := ttypes.ParseEngineKind(req.Engine)
	if err != nil {
		return Result{}, NewError(KindValidation, "invalid engine", err)
	}
	lang := catalog.NormalizeLanguage(req.Language)
	if kind == ttypes.EngineNone {
		var ok bool
		if kind, ok = s.EngineFor(lang); !ok {
			kind = s.DefaultEngine
		}
	}

	engine, ok := d.engines[kind]
	if !ok {
		return Result{}, validationError("engine %s is not configured", kind)
	}
	if kind == ttypes.EngineLocal {
		d.catalog.RefreshLocal(ctx)
	}

	voices := d.catalog.Voices(kind, lang)
	data := protocol.VoicesData{
		Engine:    string(kind),
		Available: engine.IsAvailable(ctx),
		Languages: d.catalog.Languages(kind),
		Voices:    make([]protocol.VoiceInfo, 0, len(voices)),
	}
	for _, v := range voices {
		data.Voices = append(data.Voices, protocol.VoiceInfo{ID: v.ID, Name: v.DisplayName, Language: v.LanguageTag})
	}
	if at := d.catalog.RefreshedAt(); kind == ttypes.EngineLocal && !at.IsZero() {
		data.RefreshedAt = &at
	}

	msg := fmt.Sprintf("%d voices", len(data.Voices))
	return Result{Response: protocol.Success(req.RequestID, msg, data)}, nil
}

// stop cancels local playback on the requested target, all devices by
// default. Stopping nothing is a success.
func (d *Dispatcher) stop(req protocol.Request) (Result, error) {
	target := ttypes.TargetBoth
	if t := strings.TrimSpace(req.Target); t != "" {
		var err error
		if target, err = ttypes.ParseDeviceTarget(t); err != nil {
			return Result{}, NewError(KindValidation, "invalid target", err)
		}
	}

	stopped := 0
	if d.player != nil {
		stopped = d.player.StopTarget(target)
	}
	if stopped > 0 {
		d.log.Info("playback stopped", "target", target, "devices", stopped)
	}

	data := map[string]any{"target": target, "stopped": stopped}
	return Result{Response: protocol.Success(req.RequestID, "stopped", data)}, nil
}

// setDefaultVoice stores the default voice of an engine. When the request
// names the engine it also becomes the default engine.
func (d *Dispatcher) setDefaultVoice(req protocol.Request) (Result, error) {
	voice := req.VoiceSelector()
	if voice == "" {
		return Result{}, validationError("voice is required")
	}

	explicit, err := ttypes.ParseEngineKind(req.Engine)
	if err != nil {
		return Result{}, NewError(KindValidation, "invalid engine", err)
	}
	kind := explicit
	if kind == ttypes.EngineNone {
		kind = d.settings.Snapshot().DefaultEngine
	}
	if _, ok := d.engines[kind]; !ok {
		return Result{}, validationError("engine %s is not configured", kind)
	}
	if !d.catalog.HasVoice(kind, voice) {
		return Result{}, validationError("voice %q is not available for %s", voice, kind)
	}

	err = d.settings.Update(func(s *settings.Settings) error {
		s.Voices[kind] = voice
		if explicit != ttypes.EngineNone {
			s.DefaultEngine = kind
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	d.log.Info("default voice updated", "engine", kind, "voice", voice)
	data := map[string]any{"engine": kind, "voice": voice}
	return Result{Response: protocol.Success(req.RequestID, "default voice updated", data)}, nil
}

// errUnknownSetting marks keys SET_GLOBAL_SETTINGS does not handle.
var errUnknownSetting = errors.New("unknown setting")

// setGlobalSettings merges the given keys into the settings. Either every
// recognized key is applied or none is; unrecognized keys are reported.
func (d *Dispatcher) setGlobalSettings(req protocol.Request) (Result, error) {
	if len(req.Settings) == 0 {
		return Result{}, validationError("settings object is required")
	}

	keys := make([]string, 0, len(req.Settings))
	for k := range req.Settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var applied, ignored []string
	err := d.settings.Update(func(s *settings.Settings) error {
		applied, ignored = applied[:0], ignored[:0]
		for _, key := range keys {
			err := d.applySetting(s, key, req.Settings[key])
			switch {
			case errors.Is(err, errUnknownSetting):
				ignored = append(ignored, key)
			case err != nil:
				return err
			default:
				applied = append(applied, key)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	d.log.Info("settings updated", "applied", applied, "ignored", ignored)
	data := map[string]any{"applied": nonNil(applied), "ignored": nonNil(ignored)}
	return Result{Response: protocol.Success(req.RequestID, "settings updated", data)}, nil
}

func (d *Dispatcher) applySetting(s *settings.Settings, key string, raw json.RawMessage) error {
	switch strings.ToLower(key) {
	case "engine", "active_engine", "default_engine":
		var name string
		if err := decodeSetting(key, raw, &name); err != nil {
			return err
		}
		kind, err := ttypes.ParseEngineKind(name)
		if err != nil || kind == ttypes.EngineNone {
			return fmt.Errorf("%w: %s: unknown engine %q", settings.ErrInvalid, key, name)
		}
		if _, ok := d.engines[kind]; !ok {
			return fmt.Errorf("%w: %s: engine %s is not configured", settings.ErrInvalid, key, kind)
		}
		s.DefaultEngine = kind

	case "language", "default_language":
		var lang string
		if err := decodeSetting(key, raw, &lang); err != nil {
			return err
		}
		s.DefaultLanguage = catalog.NormalizeLanguage(lang)

	case "volume":
		return decodeSetting(key, raw, &s.Volume)

	case "speed":
		return decodeSetting(key, raw, &s.Speed)

	case "device_target", "target":
		var name string
		if err := decodeSetting(key, raw, &name); err != nil {
			return err
		}
		target, err := ttypes.ParseDeviceTarget(name)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", settings.ErrInvalid, key, err)
		}
		s.DeviceTarget = target

	case "primary_device":
		return decodeSetting(key, raw, &s.PrimaryDevice)

	case "secondary_device":
		return decodeSetting(key, raw, &s.SecondaryDevice)

	case "host_name":
		return decodeSetting(key, raw, &s.HostName)

	case "playback_enabled", "play":
		return decodeSetting(key, raw, &s.PlaybackEnabled)

	default:
		return errUnknownSetting
	}
	return nil
}

// decodeSetting unmarshals one value. A JSON null clears pointer fields.
func decodeSetting(key string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", settings.ErrInvalid, key, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
