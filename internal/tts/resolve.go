package tts

import (
	"context"
	"strings"

	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/settings"
	"github.com/vrct-tts/connector/internal/tts/engines"
	"github.com/vrct-tts/connector/internal/ttypes"
)

// resolveLanguage normalizes the request language, falling back to the
// configured default.
func resolveLanguage(lang string, s settings.Settings) string {
	if l := catalog.NormalizeLanguage(lang); l != "" {
		return l
	}
	return catalog.NormalizeLanguage(s.DefaultLanguage)
}

// resolveEngine picks the engine for a request. An explicit engine is used
// when it is available. A language rule is used when its engine is
// available; otherwise the default engine applies and must be reachable.
func (d *Dispatcher) resolveEngine(ctx context.Context, explicit, lang string, s settings.Settings) (ttypes.Engine, error) {
	kind, err := ttypes.ParseEngineKind(explicit)
	if err != nil {
		return nil, NewError(KindValidation, "invalid engine", err)
	}

	if kind != ttypes.EngineNone {
		if e, ok := d.engines[kind]; ok && e.IsAvailable(ctx) {
			return e, nil
		}
		d.log.Debug("requested engine unavailable, using configured engine", "engine", kind)
	}

	if rule, ok := s.RuleFor(lang); ok && rule.Engine != s.DefaultEngine {
		if e, ok := d.engines[rule.Engine]; ok && e.IsAvailable(ctx) {
			return e, nil
		}
		d.log.Debug("rule engine unavailable, using default engine",
			"language", lang, "engine", rule.Engine, "default", s.DefaultEngine)
	}

	kind = s.DefaultEngine
	e, ok := d.engines[kind]
	if !ok {
		return nil, validationError("engine %s is not configured", kind)
	}
	if !e.IsAvailable(ctx) {
		return nil, NewError(KindValidation, "engine "+kind.String()+" is not reachable", engines.ErrUnavailable).
			WithContext("engine", kind)
	}
	return e, nil
}

// resolveVoice picks the first voice valid for the engine among the
// explicit one, the language rule's, the configured default for the engine
// and the engine's own default.
func (d *Dispatcher) resolveVoice(e ttypes.Engine, explicit, lang string, s settings.Settings) string {
	kind := e.Kind()

	if v := strings.TrimSpace(explicit); v != "" {
		if d.catalog.HasVoice(kind, v) {
			return v
		}
		d.log.Debug("voice not available for engine, using default", "voice", v, "engine", kind)
	}

	if rule, ok := s.RuleFor(lang); ok && rule.Engine == kind && rule.Voice != "" {
		if d.catalog.HasVoice(kind, rule.Voice) {
			return rule.Voice
		}
		d.log.Debug("rule voice not available", "language", lang, "voice", rule.Voice, "engine", kind)
	}

	if v := s.VoiceFor(kind); v != "" && d.catalog.HasVoice(kind, v) {
		return v
	}
	return e.DefaultVoice()
}

// resolveSpeed returns the request speed or the configured one. Engines
// without speed control always report 1 and accept any requested value.
func resolveSpeed(speed *float64, e ttypes.Engine, s settings.Settings) (float64, error) {
	if !e.Capabilities().Speed {
		return 1, nil
	}
	if speed == nil {
		return s.Speed, nil
	}
	if *speed < settings.MinSpeed || *speed > settings.MaxSpeed {
		return 0, validationError("speed must be between %.2f and %.1f, got %.2f",
			settings.MinSpeed, settings.MaxSpeed, *speed)
	}
	return *speed, nil
}
