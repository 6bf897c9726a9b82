// Package voice is the Transcription Adapter: it captures a bounded audio
// recording, transcribes it with a speech backend and reports how much the
// transcript can be trusted.
package voice

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/arovia/internal/triage"
)

const tracerName = "github.com/linnemanlabs/arovia/internal/voice"

// DefaultPrompt biases the transcriber toward clinical vocabulary.
const DefaultPrompt = "A patient describing their symptoms, how long they have had them and how severe they are."

// DefaultConfidenceFloor is the confidence below which a transcript is
// flagged as low confidence.
const DefaultConfidenceFloor = 0.4

// Request describes one voice capture.
type Request struct {
	// Language is a catalog code; empty means auto-detect.
	Language string
	Duration time.Duration
}

// Adapter turns recordings into VoiceInput.
type Adapter struct {
	backend Backend
	retry   triage.RetryPolicy
	floor   float64
	prompt  string
	logger  log.Logger
	hooks   triage.EngineHooks
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRetryPolicy overrides the backend retry policy.
func WithRetryPolicy(p triage.RetryPolicy) AdapterOption {
	return func(a *Adapter) { a.retry = p }
}

// WithConfidenceFloor sets the low-confidence threshold.
func WithConfidenceFloor(f float64) AdapterOption {
	return func(a *Adapter) { a.floor = f }
}

// WithPrompt replaces the initial transcription prompt.
func WithPrompt(p string) AdapterOption {
	return func(a *Adapter) { a.prompt = p }
}

// WithHooks installs observation callbacks.
func WithHooks(h triage.EngineHooks) AdapterOption {
	return func(a *Adapter) { a.hooks = h }
}

// NewAdapter creates an adapter over backend.
func NewAdapter(backend Backend, logger log.Logger, opts ...AdapterOption) *Adapter {
	if logger == nil {
		logger = log.Nop()
	}
	a := &Adapter{
		backend: backend,
		retry:   triage.DefaultRetryPolicy(),
		floor:   DefaultConfidenceFloor,
		prompt:  DefaultPrompt,
		logger:  logger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Info reports the transcription backend.
func (a *Adapter) Info() triage.ModelInfo {
	if d, ok := a.backend.(triage.Describer); ok {
		return d.Info()
	}
	return triage.ModelInfo{Provider: "unknown"}
}

// Transcribe captures audio from c and transcribes it. The recording is
// always released before Transcribe returns.
func (a *Adapter) Transcribe(ctx context.Context, c Capturer, req Request) (*triage.VoiceInput, error) {
	lang, err := LookupLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	d := ClampDuration(req.Duration)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "voice.transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice.language", lang.Code),
		attribute.Float64("voice.duration_seconds", d.Seconds()),
	)

	start := time.Now()
	status := "failed"
	defer func() {
		if a.hooks.OnTranscription != nil {
			a.hooks.OnTranscription(status, time.Since(start).Seconds())
		}
	}()

	rec, err := c.Capture(ctx, d)
	if err != nil {
		if ctx.Err() != nil {
			status = "canceled"
			return nil, ctx.Err()
		}
		var ce *triage.CaptureError
		if !errors.As(err, &ce) {
			err = &triage.CaptureError{Reason: "capture", Err: err}
		}
		a.logger.Warn(ctx, "audio capture failed", "err", err)
		span.SetStatus(codes.Error, "capture failed")
		return nil, err
	}
	defer func() {
		if rerr := rec.Release(); rerr != nil {
			a.logger.Warn(ctx, "failed to remove recording", "path", rec.Path, "err", rerr)
		}
	}()

	L := a.logger.With("language", lang.Code, "recorded_seconds", rec.Duration.Seconds())

	tr, err := triage.Retry(ctx, a.retry, func(ctx context.Context) (*Transcript, error) {
		return a.backend.Transcribe(ctx, rec.Path, lang.Code, a.prompt)
	})
	if err != nil {
		if ctx.Err() != nil {
			status = "canceled"
			return nil, ctx.Err()
		}
		L.Error(ctx, err, "transcription failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return nil, &triage.TranscriptionError{Err: err}
	}
	if tr.Text == "" {
		status = "empty"
		L.Warn(ctx, "transcription produced no text")
		return nil, &triage.TranscriptionError{Empty: true}
	}

	detected := normalizeDetected(tr.Language)
	if detected == "" {
		detected = lang.Code
	}
	in := &triage.VoiceInput{
		AudioFilePath:   rec.Path,
		TranscribedText: tr.Text,
		Language:        detected,
		Confidence:      Confidence(tr.Segments),
		ProcessingTime:  time.Since(start).Seconds(),
	}
	if in.Confidence < a.floor {
		in.LowConfidence = true
		L.Warn(ctx, "low confidence transcription", "confidence", in.Confidence, "floor", a.floor)
	}

	status = "complete"
	span.SetAttributes(
		attribute.String("voice.detected_language", detected),
		attribute.Float64("voice.confidence", in.Confidence),
	)
	L.Info(ctx, "transcription complete",
		"detected_language", detected,
		"confidence", in.Confidence,
		"segments", len(tr.Segments),
	)
	return in, nil
}
