package triageapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/referral"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a pipeline error to an HTTP status and a message safe to
// return to the caller. Backend detail never reaches the response.
func statusFor(err error) (int, string) {
	var (
		capErr   *triage.CaptureError
		transErr *triage.TranscriptionError
		genErr   *triage.TriageGenerationError
		facErr   *triage.FacilityLookupError
		relErr   *triage.RelevanceCheckError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the request took too long; please try again"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "the request was canceled"
	case errors.Is(err, triage.ErrEmptyInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, voice.ErrUnsupportedLanguage):
		return http.StatusBadRequest, "unsupported language; see /api/v1/languages"
	case errors.Is(err, pipeline.ErrVoiceDisabled):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, referral.ErrNoResult):
		return http.StatusBadRequest, "a triage result is required"
	case errors.As(err, &capErr):
		return http.StatusBadRequest, "the uploaded audio could not be read; send a WAV recording of at least a few seconds"
	case errors.As(err, &transErr):
		if transErr.Empty {
			return http.StatusUnprocessableEntity, transErr.UserMessage()
		}
		return http.StatusBadGateway, transErr.UserMessage()
	case errors.As(err, &facErr):
		if facErr.Malformed {
			return http.StatusBadRequest, facErr.UserMessage()
		}
		return http.StatusBadGateway, facErr.UserMessage()
	case errors.As(err, &genErr):
		return http.StatusBadGateway, genErr.UserMessage()
	case errors.As(err, &relErr):
		return http.StatusBadGateway, relErr.UserMessage()
	}
	return http.StatusInternalServerError, "internal error"
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status, userMsg := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, "status", status)
	} else {
		a.logger.Warn(r.Context(), msg, "status", status, "err", err.Error())
	}
	writeJSON(w, status, errorBody{Error: userMsg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
