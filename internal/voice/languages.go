package voice

import (
	"errors"
	"slices"
	"strings"
)

// ErrUnsupportedLanguage is returned for a language code outside the catalog.
var ErrUnsupportedLanguage = errors.New("unsupported transcription language")

// Language is one entry of the transcription language catalog.
type Language struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

var catalog = []Language{
	{"Hindi", "hi"},
	{"English", "en"},
	{"Bengali", "bn"},
	{"Telugu", "te"},
	{"Marathi", "mr"},
	{"Tamil", "ta"},
	{"Gujarati", "gu"},
	{"Urdu", "ur"},
	{"Kannada", "kn"},
	{"Odia", "or"},
	{"Malayalam", "ml"},
	{"Punjabi", "pa"},
	{"Assamese", "as"},
	{"Nepali", "ne"},
	{"Sanskrit", "sa"},
	{"Konkani", "gom"},
	{"Manipuri", "mni"},
	{"Bodo", "brx"},
	{"Dogri", "doi"},
	{"Kashmiri", "ks"},
	{"Maithili", "mai"},
	{"Santali", "sat"},
}

// Languages returns a copy of the supported language catalog in display order.
func Languages() []Language {
	return slices.Clone(catalog)
}

// LookupLanguage resolves a language code. The empty code means
// auto-detect and resolves to the zero Language.
func LookupLanguage(code string) (Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Language{}, nil
	}
	i := slices.IndexFunc(catalog, func(l Language) bool { return l.Code == code })
	if i < 0 {
		return Language{}, ErrUnsupportedLanguage
	}
	return catalog[i], nil
}

// normalizeDetected maps a backend's detected language to a catalog code.
// Whisper reports codes, Groq reports lowercase names; anything else is
// passed through unchanged.
func normalizeDetected(detected string) string {
	d := strings.ToLower(strings.TrimSpace(detected))
	for _, l := range catalog {
		if d == l.Code || d == strings.ToLower(l.Name) {
			return l.Code
		}
	}
	return d
}
