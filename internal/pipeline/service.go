// Package pipeline runs one patient interaction end to end: transcribe,
// gate, reason, match and assemble. Every call works on request-scoped
// values only and never returns a partial outcome.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/arovia/internal/facility"
	"github.com/linnemanlabs/arovia/internal/referral"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

const tracerName = "github.com/linnemanlabs/arovia/internal/pipeline"

const notifyTimeout = 5 * time.Second

// Reasoner produces a validated assessment for patient text.
type Reasoner interface {
	Assess(ctx context.Context, text string) (*triage.Result, error)
	Info() triage.ModelInfo
}

// RelevanceChecker classifies text before reasoning runs.
type RelevanceChecker interface {
	Check(ctx context.Context, text string) (triage.Relevance, error)
	Info() triage.ModelInfo
}

// Transcriber turns a bounded audio capture into text.
type Transcriber interface {
	Transcribe(ctx context.Context, c voice.Capturer, req voice.Request) (*triage.VoiceInput, error)
	Info() triage.ModelInfo
}

// Matcher ranks facilities near a location.
type Matcher interface {
	Match(ctx context.Context, specialty, location string, opts facility.Options) ([]triage.Facility, error)
	MatchForResult(ctx context.Context, r *triage.Result, location string) ([]triage.Facility, error)
}

// Notifier is told about emergency assessments.
type Notifier interface {
	NotifyEmergency(ctx context.Context, e *Emergency) error
}

// Emergency is the notification payload. It carries no patient text or
// identifier.
type Emergency struct {
	RequestID    string
	Category     triage.Category
	UrgencyScore int
	Specialty    string
	FlagTypes    []triage.FlagType
	Facilities   int
	At           time.Time
}

// Request is one text analysis. A referral note is produced when Location
// is set or Referral is true.
type Request struct {
	Text      string
	Location  string
	PatientID string
	Referral  bool
}

// VoiceRequest is one voice analysis.
type VoiceRequest struct {
	Voice     voice.Request
	Location  string
	PatientID string
	Referral  bool
}

// Outcome is everything one request produced. Result is nil when the
// relevance gate rejected the input.
type Outcome struct {
	RequestID string               `json:"request_id"`
	Voice     *triage.VoiceInput   `json:"voice,omitempty"`
	Relevance triage.Relevance     `json:"relevance"`
	Result    *triage.Result       `json:"result,omitempty"`
	Referral  *triage.ReferralNote `json:"referral,omitempty"`
}

// Rejected reports whether the relevance gate stopped the request.
func (o *Outcome) Rejected() bool { return o.Result == nil }

// FacilityQuery is a standalone facility search. A positive UrgencyScore
// or Emergency applies the urgency-based radius and emergency preference.
type FacilityQuery struct {
	Specialty    string
	Location     string
	Emergency    bool
	UrgencyScore int
	Limit        int
}

// Models describes the backends behind the pipeline.
type Models struct {
	Reasoner    triage.ModelInfo `json:"reasoner"`
	Gate        triage.ModelInfo `json:"relevance_gate"`
	Transcriber triage.ModelInfo `json:"transcriber"`
	Version     string           `json:"version"`
}

// Service wires the pipeline stages together.
type Service struct {
	reasoner    Reasoner
	gate        RelevanceChecker
	transcriber Transcriber
	matcher     Matcher
	notifier    Notifier
	logger      log.Logger
	version     string
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTranscriber enables voice analysis.
func WithTranscriber(t Transcriber) Option { return func(s *Service) { s.transcriber = t } }

// WithNotifier sends emergency notifications.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithVersion sets the build version reported by Models.
func WithVersion(v string) Option { return func(s *Service) { s.version = v } }

// WithClock overrides the clock used to stamp referral notes.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// ErrVoiceDisabled is returned by AnalyzeVoice when no transcriber is configured.
var ErrVoiceDisabled = errors.New("voice input is not configured")

// NewService creates a pipeline.
func NewService(reasoner Reasoner, gate RelevanceChecker, matcher Matcher, logger log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		reasoner: reasoner,
		gate:     gate,
		matcher:  matcher,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AnalyzeText gates and assesses text, then builds a referral when asked.
func (s *Service) AnalyzeText(ctx context.Context, req Request) (*Outcome, error) {
	id := ulid.Make().String()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.analyze_text")
	defer span.End()
	span.SetAttributes(attribute.String("arovia.request_id", id))

	out, err := s.analyze(ctx, id, req.Text, req.Location, req.PatientID, req.Referral || req.Location != "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// AnalyzeVoice transcribes a capture and analyzes the transcript. The
// capture is released before AnalyzeVoice returns.
func (s *Service) AnalyzeVoice(ctx context.Context, c voice.Capturer, req VoiceRequest) (*Outcome, error) {
	if s.transcriber == nil {
		return nil, ErrVoiceDisabled
	}
	id := ulid.Make().String()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.analyze_voice")
	defer span.End()
	span.SetAttributes(attribute.String("arovia.request_id", id))

	vi, err := s.transcriber.Transcribe(ctx, c, req.Voice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if vi.LowConfidence {
		s.logger.Warn(ctx, "low confidence transcript", "request_id", id, "confidence", vi.Confidence, "language", vi.Language)
	}

	out, err := s.analyze(ctx, id, vi.TranscribedText, req.Location, req.PatientID, req.Referral || req.Location != "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out.Voice = vi
	return out, nil
}

func (s *Service) analyze(ctx context.Context, id, text, location, patientID string, wantReferral bool) (*Outcome, error) {
	L := s.logger.With("request_id", id)
	start := time.Now()

	rel, err := s.gate.Check(ctx, text)
	if err != nil {
		return nil, err
	}
	out := &Outcome{RequestID: id, Relevance: rel}
	if !rel.IsRelevant {
		L.Info(ctx, "input rejected by relevance gate", "reason", rel.Reason)
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.reasoner.Assess(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			L.Error(ctx, err, "assessment failed")
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.Result = result

	if wantReferral {
		note, err := s.refer(ctx, result, location, patientID)
		if err != nil {
			return nil, err
		}
		out.Referral = note
	}

	if result.EmergencyDetected {
		facilities := 0
		if out.Referral != nil {
			facilities = len(out.Referral.RecommendedFacilities)
		}
		s.notify(ctx, L, id, result, facilities)
	}

	L.Info(ctx, "analysis complete",
		"category", result.TriageCategory,
		"urgency_score", result.UrgencyScore,
		"emergency", result.EmergencyDetected,
		"degraded_gate", rel.Degraded,
		"referral", out.Referral != nil,
		"duration", time.Since(start).Seconds(),
	)
	return out, nil
}

// Refer matches facilities for result near location and assembles a note.
// An empty location yields a note with no facilities.
func (s *Service) Refer(ctx context.Context, result *triage.Result, location, patientID string) (*triage.ReferralNote, error) {
	if result == nil {
		return nil, referral.ErrNoResult
	}
	return s.refer(ctx, result, location, patientID)
}

func (s *Service) refer(ctx context.Context, result *triage.Result, location, patientID string) (*triage.ReferralNote, error) {
	var facilities []triage.Facility
	if s.matcher != nil {
		var err error
		facilities, err = s.matcher.MatchForResult(ctx, result, location)
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return referral.Assemble(result, facilities, patientID, s.now())
}

// Facilities runs a standalone facility search.
func (s *Service) Facilities(ctx context.Context, q FacilityQuery) ([]triage.Facility, error) {
	if s.matcher == nil {
		return []triage.Facility{}, nil
	}
	if q.Emergency || q.UrgencyScore > 0 {
		score := q.UrgencyScore
		if q.Emergency {
			score = max(score, triage.MaxUrgencyScore)
		}
		return s.matcher.MatchForResult(ctx, &triage.Result{
			UrgencyScore:         score,
			EmergencyDetected:    q.Emergency,
			RecommendedSpecialty: q.Specialty,
		}, q.Location)
	}
	return s.matcher.Match(ctx, q.Specialty, q.Location, facility.Options{Limit: q.Limit})
}

// Models reports the backends and build version.
func (s *Service) Models() Models {
	m := Models{
		Reasoner:    s.reasoner.Info(),
		Gate:        s.gate.Info(),
		Transcriber: triage.ModelInfo{Provider: "none"},
		Version:     s.version,
	}
	if s.transcriber != nil {
		m.Transcriber = s.transcriber.Info()
	}
	return m
}

// Languages lists the supported transcription languages.
func (s *Service) Languages() []voice.Language {
	return voice.Languages()
}

// VoiceEnabled reports whether AnalyzeVoice can run.
func (s *Service) VoiceEnabled() bool { return s.transcriber != nil }

func (s *Service) notify(ctx context.Context, L log.Logger, id string, r *triage.Result, facilities int) {
	if s.notifier == nil {
		return
	}
	flags := make([]triage.FlagType, 0, len(r.RedFlags))
	for _, f := range r.RedFlags {
		flags = append(flags, f.FlagType)
	}
	e := &Emergency{
		RequestID:    id,
		Category:     r.TriageCategory,
		UrgencyScore: r.UrgencyScore,
		Specialty:    strings.TrimSpace(r.RecommendedSpecialty),
		FlagTypes:    flags,
		Facilities:   facilities,
		At:           r.Timestamp,
	}

	// The request outcome does not depend on the notification.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyEmergency(nctx, e); err != nil {
		L.Error(ctx, err, "emergency notification failed")
	}
}
