package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/arovia/internal/cfg"
	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/referral"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

type fakeService struct {
	outcome *pipeline.Outcome
	err     error

	textReq  pipeline.Request
	voiceReq pipeline.VoiceRequest
	query    pipeline.FacilityQuery
	closed   bool
}

func (f *fakeService) AnalyzeText(_ context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	f.textReq = req
	return f.outcome, f.err
}

func (f *fakeService) AnalyzeVoice(_ context.Context, _ voice.Capturer, req pipeline.VoiceRequest) (*pipeline.Outcome, error) {
	f.voiceReq = req
	return f.outcome, f.err
}

func (f *fakeService) Facilities(_ context.Context, q pipeline.FacilityQuery) ([]triage.Facility, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return []triage.Facility{{
		Name: "Care Hospitals", Address: "Banjara Hills", DistanceKM: 2.4,
		Specialty: "Cardiology", Services: []string{}, Type: triage.FacilityPrivate,
	}}, nil
}

func (f *fakeService) Models() pipeline.Models {
	return pipeline.Models{
		Reasoner:    triage.ModelInfo{Provider: "groq", Model: "llama-3.3-70b-versatile"},
		Gate:        triage.ModelInfo{Provider: "groq", Model: "llama-3.3-70b-versatile"},
		Transcriber: triage.ModelInfo{Provider: "none"},
		Version:     "dev",
	}
}

func chestPain() *triage.Result {
	return &triage.Result{
		ChiefComplaint: "Chest pain radiating to left arm",
		Symptoms:       []triage.Symptom{{Name: "chest pain", Severity: triage.SeveritySevere, Duration: "20 minutes", AssociatedSymptoms: []string{}}},
		UrgencyScore:   10,
		RedFlags: []triage.RedFlag{{
			FlagType: triage.FlagCardiac, Description: "possible heart attack",
			UrgencyLevel: triage.UrgencyImmediate, ActionRequired: "Call 108",
		}},
		PotentialRisks:       []triage.PotentialRisk{{Condition: "Myocardial infarction", Probability: triage.ProbabilityHigh, SpecialtyNeeded: "Cardiology"}},
		RecommendedSpecialty: "Cardiology",
		TriageCategory:       triage.CategoryImmediate,
		EmergencyDetected:    true,
		ActionRequired:       "Call 108 immediately",
		Timestamp:            time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// runCmd executes the CLI against svc and returns stdout and the error.
func runCmd(t *testing.T, svc *fakeService, stdin string, args ...string) (string, error) {
	t.Helper()
	var built bool
	build := func(_ context.Context, _ *vc.Config, _ log.Logger) (service, func() error, error) {
		built = true
		if svc == nil {
			t.Fatal("build called for a command that needs no service")
		}
		return svc, func() error { svc.closed = true; return nil }, nil
	}

	root := newRootCmd(build)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if built && svc != nil && !svc.closed {
		t.Error("service was not released")
	}
	return out.String(), err
}

var keyArgs = []string{"--groq-api-key", "gsk-test", "--geocoder", "none"}

func withKey(args ...string) []string { return append(args, keyArgs...) }

func TestTriage_PrintsAssessment(t *testing.T) {
	svc := &fakeService{outcome: &pipeline.Outcome{
		RequestID: "01JTEST",
		Relevance: triage.Relevance{IsRelevant: true},
		Result:    chestPain(),
	}}

	out, err := runCmd(t, svc, "", withKey("triage", "chest", "pain", "--location", "Hyderabad", "--patient-id", "P-9")...)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if svc.textReq.Text != "chest pain" || svc.textReq.Location != "Hyderabad" || svc.textReq.PatientID != "P-9" {
		t.Errorf("request = %+v", svc.textReq)
	}
	for _, want := range []string{"IMMEDIATE", "10/10", "EMERGENCY", "Chest pain radiating", "Cardiology", "possible heart attack", "Myocardial infarction", "01JTEST"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTriage_ReadsStdin(t *testing.T) {
	svc := &fakeService{outcome: &pipeline.Outcome{Relevance: triage.Relevance{IsRelevant: true}, Result: chestPain()}}

	if _, err := runCmd(t, svc, "headache for two days\n", withKey("triage")...); err != nil {
		t.Fatalf("triage: %v", err)
	}
	if svc.textReq.Text != "headache for two days\n" {
		t.Errorf("text = %q", svc.textReq.Text)
	}
}

func TestTriage_JSON(t *testing.T) {
	svc := &fakeService{outcome: &pipeline.Outcome{RequestID: "01J", Relevance: triage.Relevance{IsRelevant: true}, Result: chestPain()}}

	out, err := runCmd(t, svc, "", withKey("triage", "--json", "chest pain")...)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	var got pipeline.Outcome
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Result == nil || got.Result.TriageCategory != triage.CategoryImmediate {
		t.Errorf("decoded = %+v", got)
	}
}

func TestTriage_Rejected(t *testing.T) {
	svc := &fakeService{outcome: &pipeline.Outcome{Relevance: triage.Relevance{Reason: "not a health question"}}}

	out, err := runCmd(t, svc, "", withKey("triage", "what is the capital of France")...)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if !strings.Contains(out, "Not assessed") || !strings.Contains(out, "not a health question") {
		t.Errorf("output = %s", out)
	}
}

func TestTriage_RenderReferral(t *testing.T) {
	result := chestPain()
	note, err := referral.Assemble(result, nil, "P-1", time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{outcome: &pipeline.Outcome{Relevance: triage.Relevance{IsRelevant: true}, Result: result, Referral: note}}

	out, err := runCmd(t, svc, "", withKey("triage", "--render", "chest pain")...)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if !svc.textReq.Referral {
		t.Error("--render should request a referral")
	}
	if !strings.Contains(out, "AROVIA REFERRAL NOTE") || !strings.Contains(out, "No facilities matched") {
		t.Errorf("output = %s", out)
	}
}

func TestTriage_UserFacingError(t *testing.T) {
	svc := &fakeService{err: &triage.TriageGenerationError{Attempts: 3, Err: errors.New("schema violation")}}

	_, err := runCmd(t, svc, "", withKey("triage", "chest pain")...)
	var genErr *triage.TriageGenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want TriageGenerationError in chain", err)
	}
	if !strings.HasPrefix(err.Error(), genErr.UserMessage()) {
		t.Errorf("err = %q, want user message first", err)
	}
}

func TestTriage_InvalidConfig(t *testing.T) {
	svc := &fakeService{}

	_, err := runCmd(t, svc, "", "triage", "chest pain", "--groq-api-key", "", "--geocoder", "bing")
	if err == nil {
		t.Fatal("expected configuration error")
	}
	for _, want := range []string{"configuration validation failed", "GROQ_API_KEY", "GEOCODER"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %q, missing %q", err, want)
		}
	}
	if svc.textReq.Text != "" {
		t.Error("service used despite invalid configuration")
	}
}

func TestVoice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{outcome: &pipeline.Outcome{
		Voice:     &triage.VoiceInput{TranscribedText: "seene mein dard", Language: "hi", Confidence: 0.3, LowConfidence: true},
		Relevance: triage.Relevance{IsRelevant: true},
		Result:    chestPain(),
	}}

	out, err := runCmd(t, svc, "", withKey("voice", path, "--language", "hi", "--duration", "12s")...)
	if err != nil {
		t.Fatalf("voice: %v", err)
	}
	if svc.voiceReq.Voice.Language != "hi" || svc.voiceReq.Voice.Duration != 12*time.Second {
		t.Errorf("voice request = %+v", svc.voiceReq)
	}
	if !strings.Contains(out, "seene mein dard") || !strings.Contains(out, "Low confidence") {
		t.Errorf("output = %s", out)
	}
}

func TestVoice_MissingFile(t *testing.T) {
	_, err := runCmd(t, nil, "", withKey("voice", filepath.Join(t.TempDir(), "nope.wav"))...)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
}

func TestFacilities(t *testing.T) {
	svc := &fakeService{}

	out, err := runCmd(t, svc, "", withKey("facilities", "--specialty", "Cardiology", "--location", "17.4,78.45", "--emergency")...)
	if err != nil {
		t.Fatalf("facilities: %v", err)
	}
	if svc.query.Specialty != "Cardiology" || !svc.query.Emergency || svc.query.Location != "17.4,78.45" {
		t.Errorf("query = %+v", svc.query)
	}
	if !strings.Contains(out, "1. Care Hospitals") || !strings.Contains(out, "2.4 km") {
		t.Errorf("output = %s", out)
	}
}

func TestFacilities_Validation(t *testing.T) {
	if _, err := runCmd(t, nil, "", withKey("facilities")...); err == nil || !strings.Contains(err.Error(), "location") {
		t.Errorf("missing location: err = %v", err)
	}
	if _, err := runCmd(t, nil, "", withKey("facilities", "--location", "x", "--urgency", "11")...); err == nil {
		t.Error("urgency 11 accepted")
	}
}

func TestLanguages_NoServiceNeeded(t *testing.T) {
	out, err := runCmd(t, nil, "", "languages")
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if got := strings.Count(out, "\n"); got != len(voice.Languages()) {
		t.Errorf("%d lines, want %d", got, len(voice.Languages()))
	}
	if !strings.Contains(out, "Hindi") || !strings.Contains(out, "Santali") {
		t.Errorf("output = %s", out)
	}
}

func TestModels(t *testing.T) {
	out, err := runCmd(t, &fakeService{}, "", withKey("models", "--json")...)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	var m pipeline.Models
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatal(err)
	}
	if m.Reasoner.Provider != "groq" || m.Transcriber.Provider != "none" {
		t.Errorf("models = %+v", m)
	}
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, nil, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "arovia") {
		t.Errorf("output = %s", out)
	}
}
