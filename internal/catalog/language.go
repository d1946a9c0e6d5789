package catalog

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguage reduces a client language tag to the form the engines
// are keyed by: the base language ("en-US" -> "en", "ja-JP" -> "ja"),
// except Chinese which keeps its script region ("zh-CN" or "zh-TW").
// Unparseable input is returned lowercased so it fails validation later
// instead of being silently replaced.
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}

	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return strings.ToLower(code)
	}

	base, _ := tag.Base()
	if base.String() != "zh" {
		return base.String()
	}

	region, _ := tag.Region()
	switch region.String() {
	case "TW", "HK", "MO":
		return "zh-TW"
	default:
		return "zh-CN"
	}
}

// IsJapanese reports whether code names Japanese in any accepted form.
func IsJapanese(code string) bool {
	return NormalizeLanguage(code) == "ja"
}
