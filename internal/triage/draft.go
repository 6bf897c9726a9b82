package triage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/linnemanlabs/arovia/internal/tools"
)

// RecordTriageTool is the forced tool the reasoner answers through.
const RecordTriageTool = "record_triage"

// draft is the model's structured answer before policy is applied.
type draft struct {
	ChiefComplaint       string          `json:"chief_complaint" jsonschema:"primary complaint in the patient's own words"`
	Symptoms             []Symptom       `json:"symptoms" jsonschema:"every symptom mentioned, one entry each"`
	RedFlags             []RedFlag       `json:"red_flags" jsonschema:"symptom patterns that need escalation; empty when none"`
	PotentialRisks       []PotentialRisk `json:"potential_risks" jsonschema:"candidate underlying conditions"`
	SuggestedUrgency     int             `json:"suggested_urgency_score" jsonschema:"1-3 self-care, 4-6 see a doctor in 24-48h, 7-8 within 4-6h, 9-10 emergency"`
	RecommendedSpecialty string          `json:"recommended_specialty,omitempty" jsonschema:"primary specialty needed"`
}

// placeholders are template strings a model sometimes echoes back instead of content.
var placeholders = []string{
	"specific action needed",
	"description of red flag",
	"symptom name",
	"potential medical condition",
	"required medical specialty",
	"immediate action required",
	"tbd",
	"n/a",
	"...",
}

func isPlaceholder(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	for _, p := range placeholders {
		if s == p {
			return true
		}
	}
	return false
}

// validateDraft checks what the schema cannot express.
func validateDraft(d *draft) error {
	var errs []error
	if strings.TrimSpace(d.ChiefComplaint) == "" {
		errs = append(errs, errors.New("chief_complaint must not be empty"))
	}
	for i, s := range d.Symptoms {
		if isPlaceholder(s.Name) {
			errs = append(errs, fmt.Errorf("symptoms[%d].name must name the symptom", i))
		}
	}
	for i, f := range d.RedFlags {
		if isPlaceholder(f.Description) {
			errs = append(errs, fmt.Errorf("red_flags[%d].description must describe the finding", i))
		}
		if isPlaceholder(f.ActionRequired) {
			errs = append(errs, fmt.Errorf("red_flags[%d].action_required must be a concrete action, not a placeholder", i))
		}
	}
	for i, r := range d.PotentialRisks {
		if isPlaceholder(r.Condition) {
			errs = append(errs, fmt.Errorf("potential_risks[%d].condition must name a condition", i))
		}
	}
	return errors.Join(errs...)
}

func enumOf[E ~string](vals []E) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func patchDraftSchema(s *jsonschema.Schema) {
	lo, hi := float64(MinUrgencyScore), float64(MaxUrgencyScore)
	s.Properties["suggested_urgency_score"].Minimum = &lo
	s.Properties["suggested_urgency_score"].Maximum = &hi

	if it := s.Properties["symptoms"].Items; it != nil {
		it.Properties["severity"].Enum = enumOf(severities)
	}
	if it := s.Properties["red_flags"].Items; it != nil {
		it.Properties["flag_type"].Enum = enumOf(flagTypes)
		it.Properties["urgency_level"].Enum = enumOf(urgencyLevels)
	}
	if it := s.Properties["potential_risks"].Items; it != nil {
		it.Properties["probability"].Enum = enumOf(probabilities)
	}
}

// newRecordTriageTool builds the structured-output tool for triage drafts.
func newRecordTriageTool() *tools.SchemaTool[draft] {
	return tools.MustSchemaTool[draft](
		RecordTriageTool,
		"Record the structured triage assessment of the patient's description. Always call this tool exactly once.",
		patchDraftSchema,
		validateDraft,
	)
}
