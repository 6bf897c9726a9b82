package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   *prometheus.HistogramVec
	TriageLLMTime    *prometheus.HistogramVec
	TriageTokensIn   prometheus.Histogram
	TriageTokensOut  prometheus.Histogram
	TriageAttempts   prometheus.Histogram
	EmergenciesTotal prometheus.Counter
	RepairsTotal     prometheus.Counter
	LLMCallsTotal    prometheus.Counter
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	LLMDuration      prometheus.Histogram
	RelevanceTotal   *prometheus.CounterVec

	TranscriptionsTotal   *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	FacilityLookupsTotal  *prometheus.CounterVec
	FacilityResults       prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arovia_triages_total",
			Help: "Total triage assessments by final status and category.",
		}, []string{"status", "category"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arovia_triage_duration_seconds",
			Help:    "Duration of triage assessments in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"status", "model"}),
		TriageLLMTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arovia_triage_llm_time_seconds",
			Help:    "Total LLM time per triage assessment in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),
		TriageTokensIn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arovia_triage_tokens_input",
			Help:    "Input tokens consumed per triage assessment.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100 .. ~51200
		}),
		TriageTokensOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arovia_triage_tokens_output",
			Help:    "Output tokens consumed per triage assessment.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		}),
		TriageAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arovia_triage_attempts",
			Help:    "Model calls per triage assessment, including corrective re-prompts.",
			Buckets: prometheus.LinearBuckets(1, 1, MaxRepairAttempts+1),
		}),
		EmergenciesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arovia_emergencies_total",
			Help: "Assessments that detected an emergency.",
		}),
		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arovia_triage_repairs_total",
			Help: "Corrective re-prompts sent after invalid model output.",
		}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arovia_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arovia_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arovia_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arovia_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}),
		RelevanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arovia_relevance_checks_total",
			Help: "Relevance gate verdicts by outcome.",
		}, []string{"outcome"}),
		TranscriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arovia_transcriptions_total",
			Help: "Voice transcriptions by status.",
		}, []string{"status"}),
		TranscriptionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arovia_transcription_duration_seconds",
			Help:    "Duration of voice transcriptions in seconds, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		FacilityLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arovia_facility_lookups_total",
			Help: "Facility lookups by outcome.",
		}, []string{"outcome"}),
		FacilityResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arovia_facility_lookup_results",
			Help:    "Facilities returned per lookup.",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.TriageLLMTime,
		m.TriageTokensIn,
		m.TriageTokensOut,
		m.TriageAttempts,
		m.EmergenciesTotal,
		m.RepairsTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.RelevanceTotal,
		m.TranscriptionsTotal,
		m.TranscriptionDuration,
		m.FacilityLookupsTotal,
		m.FacilityResults,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnRepair: func(int) {
			m.RepairsTotal.Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(e.Status, string(e.Category)).Inc()
			m.TriageDuration.WithLabelValues(e.Status, e.Model).Observe(e.Duration)
			m.TriageLLMTime.WithLabelValues(e.Model).Observe(e.LLMTime)
			m.TriageTokensIn.Observe(float64(e.TokensIn))
			m.TriageTokensOut.Observe(float64(e.TokensOut))
			m.TriageAttempts.Observe(float64(e.Attempts))
			if e.Emergency {
				m.EmergenciesTotal.Inc()
			}
		},
		OnRelevance: func(outcome string) {
			m.RelevanceTotal.WithLabelValues(outcome).Inc()
		},
		OnTranscription: func(status string, duration float64) {
			m.TranscriptionsTotal.WithLabelValues(status).Inc()
			m.TranscriptionDuration.Observe(duration)
		},
		OnFacilityLookup: func(outcome string, results int) {
			m.FacilityLookupsTotal.WithLabelValues(outcome).Inc()
			m.FacilityResults.Observe(float64(results))
		},
	}
}
