package triageapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/voice"
)

type triageRequest struct {
	Text      string `json:"text"`
	Location  string `json:"location,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Referral  bool   `json:"referral,omitempty"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}

	out, err := a.svc.AnalyzeText(r.Context(), pipeline.Request{
		Text:      req.Text,
		Location:  req.Location,
		PatientID: req.PatientID,
		Referral:  req.Referral,
	})
	if err != nil {
		a.writeError(w, r, err, "text triage failed")
		return
	}
	a.writeOutcome(w, r, out)
}

func (a *API) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "audio upload too large"})
			return
		}
		badRequest(w, "expected a multipart form with an audio file")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("audio")
	if err != nil {
		badRequest(w, `missing "audio" file`)
		return
	}
	defer func() { _ = file.Close() }()

	duration := voice.DefaultDuration
	if v := strings.TrimSpace(r.FormValue("duration")); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			badRequest(w, "duration must be a positive number of seconds")
			return
		}
		duration = d
	}
	referral, _ := strconv.ParseBool(r.FormValue("referral"))

	out, err := a.svc.AnalyzeVoice(r.Context(), voice.NewWAVCapture(file, a.audioDir), pipeline.VoiceRequest{
		Voice:     voice.Request{Language: r.FormValue("language"), Duration: duration},
		Location:  r.FormValue("location"),
		PatientID: r.FormValue("patient_id"),
		Referral:  referral,
	})
	if err != nil {
		a.writeError(w, r, err, "voice triage failed")
		return
	}
	a.writeOutcome(w, r, out)
}

// writeOutcome answers 422 when the relevance gate rejected the input.
func (a *API) writeOutcome(w http.ResponseWriter, r *http.Request, out *pipeline.Outcome) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("arovia.request_id", out.RequestID),
		attribute.Bool("arovia.relevant", out.Relevance.IsRelevant),
	)
	w.Header().Set("X-Arovia-Request-Id", out.RequestID)

	if out.Rejected() {
		writeJSON(w, http.StatusUnprocessableEntity, out)
		return
	}
	span.SetAttributes(
		attribute.String("arovia.triage.category", string(out.Result.TriageCategory)),
		attribute.Bool("arovia.triage.emergency", out.Result.EmergencyDetected),
	)
	writeJSON(w, http.StatusOK, out)
}

var errBadDuration = errors.New("duration must be a positive, finite number of seconds")

// parseSeconds reads a recording length in seconds, clamped to the capture
// bounds before conversion so huge values cannot overflow a Duration.
func parseSeconds(v string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, errBadDuration
	}
	secs = min(max(secs, voice.MinDuration.Seconds()), voice.MaxDuration.Seconds())
	return time.Duration(secs * float64(time.Second)), nil
}
