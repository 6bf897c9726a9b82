package triageapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/referral"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

type fakeService struct {
	mu       sync.Mutex
	outcome  *pipeline.Outcome
	err      error
	textReq  pipeline.Request
	voiceReq pipeline.VoiceRequest
	capturer voice.Capturer
	query    pipeline.FacilityQuery
	referred *triage.Result
}

func (f *fakeService) AnalyzeText(_ context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textReq = req
	return f.outcome, f.err
}

func (f *fakeService) AnalyzeVoice(_ context.Context, c voice.Capturer, req pipeline.VoiceRequest) (*pipeline.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voiceReq = req
	f.capturer = c
	return f.outcome, f.err
}

func (f *fakeService) Refer(_ context.Context, r *triage.Result, _, patientID string) (*triage.ReferralNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.referred = r
	if f.err != nil {
		return nil, f.err
	}
	return referral.Assemble(r, nil, patientID, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func (f *fakeService) Facilities(_ context.Context, q pipeline.FacilityQuery) ([]triage.Facility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return []triage.Facility{{Name: "City General", DistanceKM: 1.5, Specialty: "General Medicine", Services: []string{}, Type: triage.FacilityLocal}}, nil
}

func (f *fakeService) Models() pipeline.Models {
	return pipeline.Models{
		Reasoner: triage.ModelInfo{Provider: "claude", Model: "claude-sonnet"},
		Gate:     triage.ModelInfo{Provider: "groq", Model: "llama"},
		Version:  "test",
	}
}

func (f *fakeService) Languages() []voice.Language { return voice.Languages() }

func assessment() *triage.Result {
	return &triage.Result{
		ChiefComplaint:       "Headache",
		Symptoms:             []triage.Symptom{{Name: "headache", Severity: triage.SeverityMild, AssociatedSymptoms: []string{}}},
		UrgencyScore:         3,
		RedFlags:             []triage.RedFlag{},
		PotentialRisks:       []triage.PotentialRisk{},
		RecommendedSpecialty: triage.GeneralMedicine,
		TriageCategory:       triage.CategoryStandard,
		ActionRequired:       "Rest",
		Timestamp:            time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(t *testing.T, svc *fakeService) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, svc, WithAudioDir(t.TempDir())).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, &fakeService{})
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
	if api := New(log.Nop(), &fakeService{}); api.logger == nil {
		t.Fatal("New(logger, svc) left logger nil")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{outcome: &pipeline.Outcome{RequestID: "01J", Relevance: triage.Relevance{IsRelevant: true}, Result: assessment()}})

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/triage", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/facilities", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/languages", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/languages", http.StatusOK},
		{http.MethodGet, "/api/v1/models", http.StatusOK},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			if rec := do(t, r, tt.method, tt.path, "", nil); rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestTriage_Success(t *testing.T) {
	t.Parallel()

	svc := &fakeService{outcome: &pipeline.Outcome{
		RequestID: "01JREQ",
		Relevance: triage.Relevance{IsRelevant: true, Reason: "symptoms"},
		Result:    assessment(),
	}}
	r := newTestRouter(t, svc)

	rec := do(t, r, http.MethodPost, "/api/v1/triage", "application/json",
		[]byte(`{"text":"headache since morning","location":"Hyderabad","patient_id":"P-1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Arovia-Request-Id") != "01JREQ" {
		t.Errorf("request id header = %q", rec.Header().Get("X-Arovia-Request-Id"))
	}
	if svc.textReq.Text != "headache since morning" || svc.textReq.Location != "Hyderabad" || svc.textReq.PatientID != "P-1" {
		t.Errorf("service got %+v", svc.textReq)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	result, ok := body["result"].(map[string]any)
	if !ok || result["triage_category"] != "standard" || result["urgency_score"] != float64(3) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestTriage_Rejected(t *testing.T) {
	t.Parallel()

	svc := &fakeService{outcome: &pipeline.Outcome{RequestID: "01J", Relevance: triage.Relevance{Reason: "not medical"}}}
	rec := do(t, newTestRouter(t, svc), http.MethodPost, "/api/v1/triage", "application/json", []byte(`{"text":"tell me a joke"}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not medical") || strings.Contains(rec.Body.String(), `"result"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestTriage_BadPayload(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})
	for _, body := range []string{`{bad`, `{"text":"x","unknown":1}`, ``} {
		if rec := do(t, r, http.MethodPost, "/api/v1/triage", "application/json", []byte(body)); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestTriage_ErrorsDoNotLeakDetail(t *testing.T) {
	t.Parallel()

	secret := errors.New("anthropic: 401 invalid x-api-key sk-ant-secret")
	svc := &fakeService{err: &triage.TriageGenerationError{Attempts: 3, Err: secret}}
	rec := do(t, newTestRouter(t, svc), http.MethodPost, "/api/v1/triage", "application/json", []byte(`{"text":"chest pain"}`))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-ant") || strings.Contains(rec.Body.String(), "401") {
		t.Errorf("response leaks backend detail: %s", rec.Body)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty input", triage.ErrEmptyInput, http.StatusBadRequest},
		{"language", fmt.Errorf("lookup: %w", voice.ErrUnsupportedLanguage), http.StatusBadRequest},
		{"capture", &triage.CaptureError{Reason: "no audio"}, http.StatusBadRequest},
		{"empty transcript", &triage.TranscriptionError{Empty: true}, http.StatusUnprocessableEntity},
		{"transcription", &triage.TranscriptionError{Err: errors.New("503")}, http.StatusBadGateway},
		{"malformed location", &triage.FacilityLookupError{Malformed: true}, http.StatusBadRequest},
		{"facility backend", &triage.FacilityLookupError{Err: errors.New("down")}, http.StatusBadGateway},
		{"generation", &triage.TriageGenerationError{Err: errors.New("bad json")}, http.StatusBadGateway},
		{"relevance", &triage.RelevanceCheckError{Err: errors.New("down")}, http.StatusBadGateway},
		{"voice disabled", pipeline.ErrVoiceDisabled, http.StatusNotImplemented},
		{"no result", referral.ErrNoResult, http.StatusBadRequest},
		{"deadline", fmt.Errorf("assess: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, msg := statusFor(tt.err); got != tt.want || msg == "" {
				t.Errorf("statusFor(%v) = %d, %q; want %d", tt.err, got, msg, tt.want)
			}
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, audio []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "clip.wav")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(audio)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestVoice(t *testing.T) {
	t.Parallel()

	svc := &fakeService{outcome: &pipeline.Outcome{
		RequestID: "01JV",
		Voice:     &triage.VoiceInput{TranscribedText: "sir dard", Language: "hi", Confidence: 0.8},
		Relevance: triage.Relevance{IsRelevant: true},
		Result:    assessment(),
	}}
	r := newTestRouter(t, svc)

	body, ct := multipartBody(t, map[string]string{"language": "hi", "duration": "12", "location": "0,0", "referral": "true"}, []byte("RIFF...."))
	rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if svc.capturer == nil {
		t.Fatal("service received no capturer")
	}
	got := svc.voiceReq
	if got.Voice.Language != "hi" || got.Voice.Duration != 12*time.Second || got.Location != "0,0" || !got.Referral {
		t.Errorf("voice request = %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"transcribed_text":"sir dard"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestVoice_DefaultsAndValidation(t *testing.T) {
	t.Parallel()

	svc := &fakeService{outcome: &pipeline.Outcome{RequestID: "01J", Relevance: triage.Relevance{IsRelevant: true}, Result: assessment()}}
	r := newTestRouter(t, svc)

	body, ct := multipartBody(t, nil, []byte("RIFF"))
	if rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", ct, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.voiceReq.Voice.Duration != voice.DefaultDuration {
		t.Errorf("duration = %v, want default", svc.voiceReq.Voice.Duration)
	}

	body, ct = multipartBody(t, map[string]string{"language": "hi"}, nil)
	if rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", ct, body); rec.Code != http.StatusBadRequest {
		t.Errorf("missing audio: status = %d", rec.Code)
	}

	body, ct = multipartBody(t, map[string]string{"duration": "soon"}, []byte("RIFF"))
	if rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", ct, body); rec.Code != http.StatusBadRequest {
		t.Errorf("bad duration: status = %d", rec.Code)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", "application/json", []byte(`{}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart: status = %d", rec.Code)
	}
}

func TestParseSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"12", 12 * time.Second, false},
		{"7.5", 7500 * time.Millisecond, false},
		{"1", voice.MinDuration, false},
		{"1e300", voice.MaxDuration, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"NaN", 0, true},
		{"nan", 0, true},
		{"Inf", 0, true},
		{"-Inf", 0, true},
		{"1e400", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := parseSeconds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSeconds(%q) err = %v, wantErr %t", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVoice_DurationBounds(t *testing.T) {
	t.Parallel()

	svc := &fakeService{outcome: &pipeline.Outcome{RequestID: "01J", Relevance: triage.Relevance{IsRelevant: true}, Result: assessment()}}
	r := newTestRouter(t, svc)

	body, ct := multipartBody(t, map[string]string{"duration": "NaN"}, []byte("RIFF"))
	if rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", ct, body); rec.Code != http.StatusBadRequest {
		t.Errorf("NaN duration: status = %d", rec.Code)
	}

	body, ct = multipartBody(t, map[string]string{"duration": "1e300"}, []byte("RIFF"))
	if rec := do(t, r, http.MethodPost, "/api/v1/triage/voice", ct, body); rec.Code != http.StatusOK {
		t.Fatalf("huge duration: status = %d", rec.Code)
	}
	if got := svc.voiceReq.Voice.Duration; got != voice.MaxDuration {
		t.Errorf("duration = %v, want %v", got, voice.MaxDuration)
	}
}

func TestFacilities(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	rec := do(t, r, http.MethodPost, "/api/v1/facilities", "application/json",
		[]byte(`{"specialty":"Cardiology","location":"17.385,78.4867","emergency":true,"urgency_score":9}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if q := svc.query; q.Specialty != "Cardiology" || !q.Emergency || q.UrgencyScore != 9 {
		t.Errorf("query = %+v", q)
	}
	if !strings.Contains(rec.Body.String(), `"facilities":[{"name":"City General"`) {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/facilities", "application/json", []byte(`{"urgency_score":11}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("score 11: status = %d", rec.Code)
	}

	svc2 := &fakeService{err: &triage.FacilityLookupError{Malformed: true, Location: "\x00"}}
	rec = do(t, newTestRouter(t, svc2), http.MethodPost, "/api/v1/facilities", "application/json", []byte(`{"location":"x"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed: status = %d", rec.Code)
	}
}

func TestReferral(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	payload, _ := json.Marshal(map[string]any{"triage_result": assessment(), "patient_id": "P-7"})
	rec := do(t, r, http.MethodPost, "/api/v1/referrals", "application/json", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	note, err := referral.UnmarshalNote(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a note: %v", err)
	}
	if note.PatientID != "P-7" || note.TriageResult.ChiefComplaint != "Headache" {
		t.Errorf("note = %+v", note)
	}

	for _, body := range []string{`{}`, `{"triage_result":{"chief_complaint":"x","urgency_score":2,"triage_category":"urgent"}}`} {
		if rec := do(t, r, http.MethodPost, "/api/v1/referrals", "application/json", []byte(body)); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})
	note, err := referral.Assemble(assessment(), nil, "", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := referral.MarshalNote(note)

	rec := do(t, r, http.MethodPost, "/api/v1/referrals/render", "application/json", data)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
	want, _ := referral.Render(note)
	if rec.Body.String() != want {
		t.Error("rendered body differs from referral.Render")
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/referrals/render", "application/json", []byte(`{"triage_result":null}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid note: status = %d", rec.Code)
	}
}

func TestLanguagesAndModels(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})

	rec := do(t, r, http.MethodGet, "/api/v1/languages", "", nil)
	var langs struct {
		Languages []voice.Language `json:"languages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &langs); err != nil || len(langs.Languages) != len(voice.Languages()) {
		t.Errorf("languages = %s (%v)", rec.Body, err)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/models", "", nil)
	var m pipeline.Models
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil || m.Reasoner.Provider != "claude" || m.Version != "test" {
		t.Errorf("models = %s (%v)", rec.Body, err)
	}
}
