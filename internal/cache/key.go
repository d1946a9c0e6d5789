package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// KeyParts are every input that changes the synthesized bytes. Volume is
// not part of it: it is applied at playback time.
type KeyParts struct {
	Engine   ttypes.EngineKind
	Text     string
	Language string
	Voice    string

	// Speed is ignored when SpeedApplies is false, so requests that only
	// differ by a speed the engine cannot honor share one entry.
	Speed        float64
	SpeedApplies bool
}

// Key derives the deterministic fingerprint for a synthesis request.
func Key(p KeyParts) string {
	speed := "1"
	if p.SpeedApplies && p.Speed > 0 {
		speed = strconv.FormatFloat(p.Speed, 'f', 3, 64)
	}

	h := sha256.New()
	fmt.Fprintf(h, "engine=%s\n", p.Engine)
	fmt.Fprintf(h, "lang=%s\n", strings.ToLower(p.Language))
	fmt.Fprintf(h, "voice=%s\n", p.Voice)
	fmt.Fprintf(h, "speed=%s\n", speed)
	fmt.Fprintf(h, "text=%s\n", NormalizeText(p.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText trims the text and collapses internal whitespace runs.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
