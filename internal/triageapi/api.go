// Package triageapi exposes the triage pipeline over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

// Body limits. Voice uploads carry up to 30 seconds of WAV audio.
const (
	jsonBodyLimit  = 64 << 10
	audioBodyLimit = 20 << 20
	multipartMem   = 8 << 20
)

// Service defines the pipeline operations the API needs.
type Service interface {
	AnalyzeText(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	AnalyzeVoice(ctx context.Context, c voice.Capturer, req pipeline.VoiceRequest) (*pipeline.Outcome, error)
	Refer(ctx context.Context, result *triage.Result, location, patientID string) (*triage.ReferralNote, error)
	Facilities(ctx context.Context, q pipeline.FacilityQuery) ([]triage.Facility, error)
	Models() pipeline.Models
	Languages() []voice.Language
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      Service
	audioDir string
}

// Option configures an API.
type Option func(*API)

// WithAudioDir sets where uploaded recordings are staged. Empty means the
// system temp directory.
func WithAudioDir(dir string) Option { return func(a *API) { a.audioDir = dir } }

// New creates a new API handler.
func New(logger log.Logger, svc Service, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httpmw.MaxBody(jsonBodyLimit))
			r.Post("/triage", a.handleTriage)
			r.Post("/facilities", a.handleFacilities)
			r.Post("/referrals", a.handleReferral)
			r.Post("/referrals/render", a.handleRender)
			r.Get("/languages", a.handleLanguages)
			r.Get("/models", a.handleModels)
		})
		r.Group(func(r chi.Router) {
			r.Use(httpmw.MaxBody(audioBodyLimit))
			r.Post("/triage/voice", a.handleVoice)
		})
	})
}

func (a *API) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": a.svc.Languages()})
}

func (a *API) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Models())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
