package catalog

import (
	"slices"

	"github.com/hegedustibor/htgo-tts/voices"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// DefaultCloudAccent is the translate domain used when no accent is chosen.
const DefaultCloudAccent = "com"

// cloudLanguages are the language codes the cloud service is offered for.
var cloudLanguages = []string{
	voices.English,
	voices.Japanese,
	voices.Korean,
	voices.French,
	voices.Spanish,
	voices.German,
	"zh-CN",
	"zh-TW",
	voices.Hindi,
	voices.Arabic,
	voices.Portuguese,
	voices.Russian,
	voices.Italian,
}

// cloudAccents maps the translate top-level domain to the regional accent
// it produces. Every domain serves every language, so the descriptors carry
// the any-language sentinel.
var cloudAccents = []struct {
	tld  string
	name string
}{
	{"com", "Default (google.com)"},
	{"co.uk", "United Kingdom"},
	{"com.au", "Australia"},
	{"ca", "Canada"},
	{"co.in", "India"},
	{"ie", "Ireland"},
	{"co.za", "South Africa"},
	{"co.jp", "Japan"},
	{"co.kr", "Korea"},
	{"fr", "France"},
	{"com.br", "Brazil"},
	{"pt", "Portugal"},
	{"com.mx", "Mexico"},
	{"es", "Spain"},
}

// CloudVoices returns the compiled-in accent table.
func CloudVoices() []ttypes.VoiceDescriptor {
	out := make([]ttypes.VoiceDescriptor, len(cloudAccents))
	for i, a := range cloudAccents {
		out[i] = ttypes.VoiceDescriptor{
			ID:          a.tld,
			DisplayName: a.name,
			LanguageTag: ttypes.AnyLanguage,
			Engine:      ttypes.EngineCloud,
		}
	}
	return out
}

// CloudLanguages returns the languages the cloud engine accepts.
func CloudLanguages() []string {
	return slices.Clone(cloudLanguages)
}

// CloudSupports reports whether the normalized language is offered.
func CloudSupports(lang string) bool {
	return slices.Contains(cloudLanguages, NormalizeLanguage(lang))
}

// IsCloudAccent reports whether id is a known accent domain.
func IsCloudAccent(id string) bool {
	for _, a := range cloudAccents {
		if a.tld == id {
			return true
		}
	}
	return false
}
