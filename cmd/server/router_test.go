package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/triageapi"
	"github.com/linnemanlabs/arovia/internal/voice"
)

// stubService answers the read-only routes; the rest are unused here.
type stubService struct{}

func (stubService) AnalyzeText(context.Context, pipeline.Request) (*pipeline.Outcome, error) {
	return nil, errors.New("not used")
}

func (stubService) AnalyzeVoice(context.Context, voice.Capturer, pipeline.VoiceRequest) (*pipeline.Outcome, error) {
	return nil, errors.New("not used")
}

func (stubService) Refer(context.Context, *triage.Result, string, string) (*triage.ReferralNote, error) {
	return nil, errors.New("not used")
}

func (stubService) Facilities(context.Context, pipeline.FacilityQuery) ([]triage.Facility, error) {
	return nil, errors.New("not used")
}

func (stubService) Models() pipeline.Models      { return pipeline.Models{Version: "test"} }
func (stubService) Languages() []voice.Language { return voice.Languages() }

func testRouter(tokens []string) http.Handler {
	api := triageapi.New(log.Nop(), stubService{})
	r := newRouter(api, tokens, func(r chi.Router) {
		r.Get("/-/healthy", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})
	return httpmw.WithLogger(log.Nop())(r)
}

func TestNewRouter_Auth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tokens []string
		path   string
		auth   string
		want   int
	}{
		{"open api", nil, "/api/v1/models", "", http.StatusOK},
		{"missing token", []string{"s3cret"}, "/api/v1/models", "", http.StatusUnauthorized},
		{"wrong token", []string{"s3cret"}, "/api/v1/models", "Bearer nope", http.StatusUnauthorized},
		{"valid token", []string{"s3cret"}, "/api/v1/languages", "Bearer s3cret", http.StatusOK},
		{"rotated token", []string{"old", "new"}, "/api/v1/models", "Bearer old", http.StatusOK},
		{"health stays public", []string{"s3cret"}, "/-/healthy", "", http.StatusOK},
		{"unknown route", nil, "/api/v2/models", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			testRouter(tt.tokens).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRegisterDBMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := registerDBMetrics(reg)
	h.WithLabelValues("POST", "/api/v1/facilities", "ok").Observe(0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "arovia_db_query_duration_seconds" {
		t.Fatalf("families = %v", families)
	}
	if got := families[0].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestShutdownComponents(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		called []string
	)
	record := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, name)
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("%s: context has no deadline", name)
			}
			return err
		}
	}

	shutdownComponents(log.Nop(), time.Second, []stopFn{
		{"first", record("first", nil)},
		{"skipped", nil},
		{"failing", record("failing", errors.New("boom"))},
		{"last", record("last", nil)},
	})

	want := []string{"first", "failing", "last"}
	if len(called) != len(want) {
		t.Fatalf("called = %v, want %v", called, want)
	}
	for i := range want {
		if called[i] != want[i] {
			t.Errorf("called[%d] = %q, want %q", i, called[i], want[i])
		}
	}
}

func TestShutdownComponents_Empty(t *testing.T) {
	t.Parallel()
	shutdownComponents(log.Nop(), time.Second, nil)
}

func TestInstrument(t *testing.T) {
	t.Parallel()

	mux := chi.NewRouter()
	mux.Get("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("handler bug") })

	var mu sync.Mutex
	var seen []string
	metricsMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, r.URL.Path)
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
	h := instrument(mux, log.Nop(), metricsMW, httpmw.ClientIPOptions{})

	tests := []struct {
		path string
		want int
	}{
		{"/ok", http.StatusNoContent},
		{"/boom", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
	if len(seen) != 2 {
		t.Errorf("metrics middleware saw %v, want both requests", seen)
	}
}

func TestIsProbe(t *testing.T) {
	t.Parallel()

	for path, want := range map[string]bool{
		"/-/healthy":      true,
		"/-/ready":        true,
		"/api/v1/triage":  false,
		"/-/healthy/more": false,
	} {
		if got := isProbe(path); got != want {
			t.Errorf("isProbe(%q) = %t, want %t", path, got, want)
		}
	}
}

func TestDrain_Elapses(t *testing.T) {
	t.Parallel()

	start := time.Now()
	drain(log.Nop(), 20*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("drain returned after %v", elapsed)
	}
}
