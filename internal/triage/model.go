package triage

import (
	"fmt"
	"slices"
	"time"
)

// Severity grades how strongly a single symptom presents.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// FlagType is the red-flag taxonomy bucket.
type FlagType string

const (
	FlagCardiac      FlagType = "cardiac"
	FlagNeurological FlagType = "neurological"
	FlagRespiratory  FlagType = "respiratory"
	FlagTrauma       FlagType = "trauma"
	FlagMentalHealth FlagType = "mental_health"
	FlagOther        FlagType = "other"
)

// UrgencyLevel is attached to every red flag.
type UrgencyLevel string

const (
	// UrgencyImmediate forces an emergency outcome.
	UrgencyImmediate UrgencyLevel = "immediate"

	// UrgencyUrgent raises the score floor but does not by itself force an emergency.
	UrgencyUrgent UrgencyLevel = "urgent"
)

// Probability is the coarse likelihood tier of a potential risk.
type Probability string

const (
	ProbabilityLow    Probability = "low"
	ProbabilityMedium Probability = "medium"
	ProbabilityHigh   Probability = "high"
)

// Category is the triage bucket derived from the urgency score.
type Category string

const (
	// CategoryImmediate is score >= 9
	CategoryImmediate Category = "immediate"

	// CategoryUrgent is 7 <= score < 9
	CategoryUrgent Category = "urgent"

	// CategoryStandard is score < 7
	CategoryStandard Category = "standard"
)

// FacilityType groups facilities for display and breaks ranking ties.
type FacilityType string

const (
	FacilityGovernment FacilityType = "government"
	FacilityPrivate    FacilityType = "private"
	FacilityNGO        FacilityType = "ngo"
	FacilityLocal      FacilityType = "local"
)

// Score bounds.
const (
	MinUrgencyScore = 1
	MaxUrgencyScore = 10
)

// GeneralMedicine is the fallback specialty when no risk points elsewhere.
const GeneralMedicine = "General Medicine"

var (
	severities    = []Severity{SeverityMild, SeverityModerate, SeveritySevere}
	flagTypes     = []FlagType{FlagCardiac, FlagNeurological, FlagRespiratory, FlagTrauma, FlagMentalHealth, FlagOther}
	urgencyLevels = []UrgencyLevel{UrgencyImmediate, UrgencyUrgent}
	probabilities = []Probability{ProbabilityLow, ProbabilityMedium, ProbabilityHigh}
	categories    = []Category{CategoryImmediate, CategoryUrgent, CategoryStandard}
	facilityTypes = []FacilityType{FacilityGovernment, FacilityPrivate, FacilityNGO, FacilityLocal}
)

func (s Severity) Valid() bool     { return slices.Contains(severities, s) }
func (f FlagType) Valid() bool     { return slices.Contains(flagTypes, f) }
func (u UrgencyLevel) Valid() bool { return slices.Contains(urgencyLevels, u) }
func (p Probability) Valid() bool  { return slices.Contains(probabilities, p) }
func (c Category) Valid() bool     { return slices.Contains(categories, c) }
func (f FacilityType) Valid() bool { return slices.Contains(facilityTypes, f) }

// UnmarshalText rejects values outside the closed set.
func (s *Severity) UnmarshalText(b []byte) error { return parseInto(s, b, "severity") }

// UnmarshalText rejects values outside the closed set.
func (f *FlagType) UnmarshalText(b []byte) error { return parseInto(f, b, "flag_type") }

// UnmarshalText rejects values outside the closed set.
func (u *UrgencyLevel) UnmarshalText(b []byte) error { return parseInto(u, b, "urgency_level") }

// UnmarshalText rejects values outside the closed set.
func (p *Probability) UnmarshalText(b []byte) error { return parseInto(p, b, "probability") }

// UnmarshalText rejects values outside the closed set.
func (c *Category) UnmarshalText(b []byte) error { return parseInto(c, b, "triage_category") }

// UnmarshalText rejects values outside the closed set.
func (f *FacilityType) UnmarshalText(b []byte) error { return parseInto(f, b, "facility_type") }

type closedEnum interface {
	~string
	Valid() bool
}

func parseInto[E closedEnum](dst *E, b []byte, field string) error {
	v := E(b)
	if !v.Valid() {
		return fmt.Errorf("invalid %s %q", field, string(b))
	}
	*dst = v
	return nil
}

// ParseSeverity converts s into a Severity or fails.
func ParseSeverity(s string) (Severity, error) {
	var v Severity
	return v, v.UnmarshalText([]byte(s))
}

// ParseCategory converts s into a Category or fails.
func ParseCategory(s string) (Category, error) {
	var v Category
	return v, v.UnmarshalText([]byte(s))
}

// Symptom is a single complaint extracted from the patient's description.
type Symptom struct {
	Name               string   `json:"name"`
	Severity           Severity `json:"severity"`
	Duration           string   `json:"duration,omitempty"`
	AssociatedSymptoms []string `json:"associated_symptoms"`
}

// RedFlag is a symptom pattern that demands escalation.
type RedFlag struct {
	FlagType       FlagType     `json:"flag_type"`
	Description    string       `json:"description"`
	UrgencyLevel   UrgencyLevel `json:"urgency_level"`
	ActionRequired string       `json:"action_required"`
}

// PotentialRisk is a candidate underlying condition.
type PotentialRisk struct {
	Condition       string      `json:"condition"`
	Probability     Probability `json:"probability"`
	SpecialtyNeeded string      `json:"specialty_needed"`
}

// Result is a complete triage assessment. It is built once by the Reasoner
// and treated as a value afterwards; use Clone before handing it to an owner.
type Result struct {
	ChiefComplaint       string          `json:"chief_complaint"`
	Symptoms             []Symptom       `json:"symptoms"`
	UrgencyScore         int             `json:"urgency_score"`
	RedFlags             []RedFlag       `json:"red_flags"`
	PotentialRisks       []PotentialRisk `json:"potential_risks"`
	RecommendedSpecialty string          `json:"recommended_specialty"`
	TriageCategory       Category        `json:"triage_category"`
	EmergencyDetected    bool            `json:"emergency_detected"`
	ActionRequired       string          `json:"action_required"`
	LowInformation       bool            `json:"low_information"`
	Timestamp            time.Time       `json:"timestamp"`
}

// HasImmediateFlag reports whether any red flag is immediate.
func (r *Result) HasImmediateFlag() bool {
	for _, f := range r.RedFlags {
		if f.UrgencyLevel == UrgencyImmediate {
			return true
		}
	}
	return false
}

// Validate checks every structural and cross-field invariant of the result.
func (r *Result) Validate() error {
	if r.ChiefComplaint == "" {
		return fmt.Errorf("chief_complaint is required")
	}
	if r.UrgencyScore < MinUrgencyScore || r.UrgencyScore > MaxUrgencyScore {
		return fmt.Errorf("urgency_score %d out of range %d..%d", r.UrgencyScore, MinUrgencyScore, MaxUrgencyScore)
	}
	if !r.TriageCategory.Valid() {
		return fmt.Errorf("invalid triage_category %q", r.TriageCategory)
	}
	if want := CategoryForScore(r.UrgencyScore); r.TriageCategory != want {
		return fmt.Errorf("triage_category %q inconsistent with urgency_score %d (want %q)", r.TriageCategory, r.UrgencyScore, want)
	}
	if want := r.TriageCategory == CategoryImmediate || r.HasImmediateFlag(); r.EmergencyDetected != want {
		return fmt.Errorf("emergency_detected=%t inconsistent with category %q and red flags", r.EmergencyDetected, r.TriageCategory)
	}
	if r.RecommendedSpecialty == "" {
		return fmt.Errorf("recommended_specialty is required")
	}
	if r.ActionRequired == "" {
		return fmt.Errorf("action_required is required")
	}
	for i, s := range r.Symptoms {
		if s.Name == "" || !s.Severity.Valid() {
			return fmt.Errorf("symptoms[%d] is invalid", i)
		}
	}
	for i, f := range r.RedFlags {
		if !f.FlagType.Valid() || !f.UrgencyLevel.Valid() || f.ActionRequired == "" {
			return fmt.Errorf("red_flags[%d] is invalid", i)
		}
	}
	for i, p := range r.PotentialRisks {
		if p.Condition == "" || !p.Probability.Valid() {
			return fmt.Errorf("potential_risks[%d] is invalid", i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Symptoms = make([]Symptom, len(r.Symptoms))
	for i, s := range r.Symptoms {
		s.AssociatedSymptoms = slices.Clone(s.AssociatedSymptoms)
		if s.AssociatedSymptoms == nil {
			s.AssociatedSymptoms = []string{}
		}
		cp.Symptoms[i] = s
	}
	cp.RedFlags = append([]RedFlag{}, r.RedFlags...)
	cp.PotentialRisks = append([]PotentialRisk{}, r.PotentialRisks...)
	return &cp
}

// VoiceInput is the transcription of one bounded audio capture.
type VoiceInput struct {
	AudioFilePath   string  `json:"audio_file_path"`
	TranscribedText string  `json:"transcribed_text"`
	Language        string  `json:"language"`
	Confidence      float64 `json:"confidence"`
	ProcessingTime  float64 `json:"processing_time"`
	LowConfidence   bool    `json:"low_confidence"`
}

// Relevance is the Relevance Gate verdict.
type Relevance struct {
	IsRelevant bool   `json:"is_relevant"`
	Reason     string `json:"reason"`
	Degraded   bool   `json:"degraded,omitempty"`
}

// Facility is a ranked referral candidate.
type Facility struct {
	Name       string       `json:"name"`
	Address    string       `json:"address"`
	DistanceKM float64      `json:"distance_km"`
	Specialty  string       `json:"specialty"`
	Services   []string     `json:"services"`
	Contact    string       `json:"contact,omitempty"`
	MapLink    string       `json:"map_link,omitempty"`
	Type       FacilityType `json:"facility_type"`
}

// ReferralNote combines an assessment with ranked facilities.
type ReferralNote struct {
	PatientID             string     `json:"patient_id,omitempty"`
	TriageResult          *Result    `json:"triage_result"`
	RecommendedFacilities []Facility `json:"recommended_facilities"`
	GeneratedAt           time.Time  `json:"generated_at"`
}

// CloneFacilities deep-copies a facility list, never returning nil.
func CloneFacilities(in []Facility) []Facility {
	out := make([]Facility, len(in))
	for i, f := range in {
		f.Services = slices.Clone(f.Services)
		if f.Services == nil {
			f.Services = []string{}
		}
		out[i] = f
	}
	return out
}
