package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Backend names accepted for the reasoner and relevance gate.
const (
	ProviderGroq   = "groq"
	ProviderClaude = "claude"
)

// Geocoder names.
const (
	GeocoderNone      = "none"
	GeocoderNominatim = "nominatim"
	GeocoderGoogle    = "google"
)

// Config adds arovia-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string

	Reasoner     string
	Gate         string
	GroqAPIKey   string
	GroqModel    string
	GroqBaseURL  string
	ClaudeAPIKey string
	ClaudeModel  string

	WhisperAPIKey   string
	WhisperModel    string
	WhisperBaseURL  string
	ConfidenceFloor float64
	AudioDir        string

	FacilityCatalog  string
	DatabaseURL      string
	DBSlowQuery      time.Duration
	Geocoder         string
	GoogleMapsAPIKey string
	NominatimURL     string
	CountryCodes     string
	GeocodeCacheDir  string
	GeocodeCacheTTL  time.Duration

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens accepted by the API (empty = no auth)")

	fs.StringVar(&c.Reasoner, "reasoner", ProviderGroq, "triage reasoning backend (groq|claude)")
	fs.StringVar(&c.Gate, "relevance-gate", ProviderGroq, "relevance gate backend (groq|claude)")
	fs.StringVar(&c.GroqAPIKey, "groq-api-key", "", "API key for the Groq OpenAI-compatible endpoint")
	fs.StringVar(&c.GroqModel, "groq-model", "llama-3.3-70b-versatile", "Groq chat model")
	fs.StringVar(&c.GroqBaseURL, "groq-base-url", "https://api.groq.com/openai/v1", "Groq API base URL")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.WhisperAPIKey, "whisper-api-key", "", "API key for the transcription endpoint (empty = groq-api-key; both empty disables voice)")
	fs.StringVar(&c.WhisperModel, "whisper-model", "whisper-large-v3", "transcription model")
	fs.StringVar(&c.WhisperBaseURL, "whisper-base-url", "https://api.groq.com/openai/v1", "transcription API base URL")
	fs.Float64Var(&c.ConfidenceFloor, "confidence-floor", 0.4, "transcripts below this confidence are flagged low-confidence (0..1)")
	fs.StringVar(&c.AudioDir, "audio-dir", "", "directory for temporary recordings (empty = system temp dir)")

	fs.StringVar(&c.FacilityCatalog, "facility-catalog", "", "YAML facility catalog (empty = built-in catalog)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the facility directory (empty = catalog in memory)")
	fs.DurationVar(&c.DBSlowQuery, "db-slow-query", 200*time.Millisecond, "log queries slower than this at warn level (0 = log every query)")
	fs.StringVar(&c.Geocoder, "geocoder", GeocoderNominatim, "location geocoder (none|nominatim|google)")
	fs.StringVar(&c.GoogleMapsAPIKey, "google-maps-api-key", "", "Google Maps API key (required for geocoder=google)")
	fs.StringVar(&c.NominatimURL, "nominatim-url", "https://nominatim.openstreetmap.org", "Nominatim server URL")
	fs.StringVar(&c.CountryCodes, "country-codes", "in", "restrict geocoding to these ISO country codes (comma-separated)")
	fs.StringVar(&c.GeocodeCacheDir, "geocode-cache-dir", "", "badger directory for the geocode cache (empty = in memory)")
	fs.DurationVar(&c.GeocodeCacheTTL, "geocode-cache-ttl", 7*24*time.Hour, "how long resolved locations stay cached")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for emergency notifications")
}

// Tokens returns the configured API tokens, trimmed, without empties.
func (c *Config) Tokens() []string {
	var out []string
	for _, t := range strings.Split(c.APITokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// TranscriptionKey is the key used for Whisper, falling back to the Groq key.
func (c *Config) TranscriptionKey() string {
	if c.WhisperAPIKey != "" {
		return c.WhisperAPIKey
	}
	return c.GroqAPIKey
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	errs = append(errs, c.ValidateModels()...)
	errs = append(errs, c.ValidateFacilities()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateModels checks backend selection and credentials. The CLI uses it
// on its own since it has no listener to configure.
func (c *Config) ValidateModels() []error {
	var errs []error
	for _, sel := range []struct{ env, val string }{{"REASONER", c.Reasoner}, {"RELEVANCE_GATE", c.Gate}} {
		switch sel.val {
		case ProviderGroq:
			if c.GroqAPIKey == "" {
				errs = append(errs, fmt.Errorf("GROQ_API_KEY is required when %s=groq", sel.env))
			}
			if c.GroqModel == "" {
				errs = append(errs, fmt.Errorf("GROQ_MODEL is required when %s=groq", sel.env))
			}
		case ProviderClaude:
			if c.ClaudeAPIKey == "" {
				errs = append(errs, fmt.Errorf("CLAUDE_API_KEY is required when %s=claude", sel.env))
			}
			if c.ClaudeModel == "" {
				errs = append(errs, fmt.Errorf("CLAUDE_MODEL is required when %s=claude", sel.env))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid %s %q (must be groq or claude)", sel.env, sel.val))
		}
	}
	if !(c.ConfidenceFloor >= 0 && c.ConfidenceFloor <= 1) {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_FLOOR %g (must be 0..1)", c.ConfidenceFloor))
	}
	if c.TranscriptionKey() != "" && c.WhisperModel == "" {
		errs = append(errs, errors.New("WHISPER_MODEL is required when transcription is enabled"))
	}
	return dedupe(errs)
}

// ValidateFacilities checks the geocoder and directory settings.
func (c *Config) ValidateFacilities() []error {
	var errs []error
	switch c.Geocoder {
	case GeocoderNone, GeocoderNominatim:
	case GeocoderGoogle:
		if c.GoogleMapsAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_MAPS_API_KEY is required when GEOCODER=google"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid GEOCODER %q (must be none, nominatim or google)", c.Geocoder))
	}
	if c.GeocodeCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid GEOCODE_CACHE_TTL %s (must be positive)", c.GeocodeCacheTTL))
	}
	if c.DBSlowQuery < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY %s (must not be negative)", c.DBSlowQuery))
	}
	return errs
}

// dedupe drops repeated messages, which happen when the reasoner and the
// gate share a backend.
func dedupe(errs []error) []error {
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, err := range errs {
		msg := err.Error()
		if strings.Contains(msg, "is required when") {
			msg = msg[:strings.Index(msg, " when")]
		}
		if seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, err)
	}
	return out
}
