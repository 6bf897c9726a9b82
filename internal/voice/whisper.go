package voice

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/arovia/internal/triage"
)

// DefaultWhisperModel is the transcription model used when none is configured.
const DefaultWhisperModel = openai.Whisper1

// Segment is one decoded span of a transcript.
type Segment struct {
	Text       string
	AvgLogprob float64
}

// Transcript is the raw backend output for one recording.
type Transcript struct {
	Text     string
	Language string
	Segments []Segment
}

// Backend turns an audio file into text.
type Backend interface {
	Transcribe(ctx context.Context, path, language, prompt string) (*Transcript, error)
}

// WhisperBackend calls an OpenAI-compatible /audio/transcriptions endpoint.
// Groq serves whisper-large-v3 behind the same API.
type WhisperBackend struct {
	client   *openai.Client
	model    string
	provider string
}

// WhisperOption configures a WhisperBackend.
type WhisperOption func(*openai.ClientConfig)

// WithWhisperBaseURL points the backend at another OpenAI-compatible endpoint.
func WithWhisperBaseURL(u string) WhisperOption {
	return func(c *openai.ClientConfig) { c.BaseURL = strings.TrimRight(u, "/") }
}

// WithWhisperHTTPClient replaces the HTTP client.
func WithWhisperHTTPClient(hc *http.Client) WhisperOption {
	return func(c *openai.ClientConfig) { c.HTTPClient = hc }
}

// NewWhisper creates a transcription backend.
func NewWhisper(apiKey, model string, opts ...WhisperOption) *WhisperBackend {
	if model == "" {
		model = DefaultWhisperModel
	}
	cfg := openai.DefaultConfig(apiKey)
	for _, o := range opts {
		o(&cfg)
	}
	provider := "openai"
	if strings.Contains(cfg.BaseURL, "groq.com") {
		provider = "groq"
	}
	return &WhisperBackend{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		provider: provider,
	}
}

// Info implements triage.Describer.
func (w *WhisperBackend) Info() triage.ModelInfo {
	return triage.ModelInfo{Provider: w.provider, Model: w.model}
}

// Transcribe implements Backend.
func (w *WhisperBackend) Transcribe(ctx context.Context, path, language, prompt string) (*Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Prompt:   prompt,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, w.classify(err)
	}

	out := &Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: make([]Segment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, Segment{Text: s.Text, AvgLogprob: s.AvgLogprob})
	}
	return out, nil
}

func (w *WhisperBackend) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status != 0 {
		return &triage.BackendError{Provider: w.provider, StatusCode: status, Retryable: triage.RetryableStatus(status), Err: err}
	}
	var netErr net.Error
	retryable := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &triage.BackendError{Provider: w.provider, Retryable: retryable, Err: err}
}

// Confidence maps the mean segment avg_logprob onto [0, 1]. A transcript
// without segments has zero confidence.
func Confidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += s.AvgLogprob
	}
	mean := sum / float64(len(segments))
	return min(1, max(0, (mean+1)/2))
}

var _ Backend = (*WhisperBackend)(nil)
