package triageapi

import (
	"io"
	"net/http"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/referral"
	"github.com/linnemanlabs/arovia/internal/triage"
)

type facilitiesRequest struct {
	Specialty    string `json:"specialty"`
	Location     string `json:"location"`
	Emergency    bool   `json:"emergency,omitempty"`
	UrgencyScore int    `json:"urgency_score,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (a *API) handleFacilities(w http.ResponseWriter, r *http.Request) {
	var req facilitiesRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}
	if req.UrgencyScore < 0 || req.UrgencyScore > triage.MaxUrgencyScore {
		badRequest(w, "urgency_score must be between 0 and 10")
		return
	}

	facilities, err := a.svc.Facilities(r.Context(), pipeline.FacilityQuery{
		Specialty:    req.Specialty,
		Location:     req.Location,
		Emergency:    req.Emergency,
		UrgencyScore: req.UrgencyScore,
		Limit:        req.Limit,
	})
	if err != nil {
		a.writeError(w, r, err, "facility search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facilities": facilities})
}

type referralRequest struct {
	Result    *triage.Result `json:"triage_result"`
	Location  string         `json:"location,omitempty"`
	PatientID string         `json:"patient_id,omitempty"`
}

func (a *API) handleReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}
	if req.Result == nil {
		badRequest(w, "triage_result is required")
		return
	}
	if err := req.Result.Validate(); err != nil {
		badRequest(w, "invalid triage_result: "+err.Error())
		return
	}

	note, err := a.svc.Refer(r.Context(), req.Result, req.Location, req.PatientID)
	if err != nil {
		a.writeError(w, r, err, "referral failed")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *API) handleRender(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "could not read body")
		return
	}
	note, err := referral.UnmarshalNote(body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	text, err := referral.Render(note)
	if err != nil {
		a.writeError(w, r, err, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}
