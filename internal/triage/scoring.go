package triage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ScoringPolicy is the tunable part of urgency scoring. The invariants hold
// for any policy that passes Validate: an immediate red flag forces the
// immediate category, and category always follows from score.
type ScoringPolicy struct {
	SeverityFloor       map[Severity]int
	RiskFloor           map[Probability]int
	MultiSevereBonus    int // added when two or more symptoms are severe
	UrgentFlagFloor     int
	ImmediateFlagFloor  int
	MultiImmediateFloor int
}

// DefaultScoringPolicy returns the policy used when none is configured.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		SeverityFloor: map[Severity]int{
			SeverityMild:     1,
			SeverityModerate: 3,
			SeveritySevere:   5,
		},
		RiskFloor: map[Probability]int{
			ProbabilityLow:    1,
			ProbabilityMedium: 3,
			ProbabilityHigh:   5,
		},
		MultiSevereBonus:    1,
		UrgentFlagFloor:     7,
		ImmediateFlagFloor:  9,
		MultiImmediateFloor: 10,
	}
}

// Validate rejects policies that would break the category invariants.
func (p ScoringPolicy) Validate() error {
	var errs []error
	if p.ImmediateFlagFloor < 9 || p.ImmediateFlagFloor > MaxUrgencyScore {
		errs = append(errs, fmt.Errorf("immediate flag floor %d must be 9..10", p.ImmediateFlagFloor))
	}
	if p.MultiImmediateFloor < p.ImmediateFlagFloor || p.MultiImmediateFloor > MaxUrgencyScore {
		errs = append(errs, fmt.Errorf("multi-immediate floor %d must be %d..10", p.MultiImmediateFloor, p.ImmediateFlagFloor))
	}
	if p.UrgentFlagFloor < 7 || p.UrgentFlagFloor > MaxUrgencyScore {
		errs = append(errs, fmt.Errorf("urgent flag floor %d must be 7..10", p.UrgentFlagFloor))
	}
	if p.MultiSevereBonus < 0 {
		errs = append(errs, errors.New("multi-severe bonus must not be negative"))
	}
	for s, v := range p.SeverityFloor {
		if v < MinUrgencyScore || v > MaxUrgencyScore {
			errs = append(errs, fmt.Errorf("severity floor for %s out of range: %d", s, v))
		}
	}
	for pr, v := range p.RiskFloor {
		if v < MinUrgencyScore || v > MaxUrgencyScore {
			errs = append(errs, fmt.Errorf("risk floor for %s out of range: %d", pr, v))
		}
	}
	return errors.Join(errs...)
}

// CategoryForScore maps a score onto its fixed category.
func CategoryForScore(score int) Category {
	switch {
	case score >= 9:
		return CategoryImmediate
	case score >= 7:
		return CategoryUrgent
	default:
		return CategoryStandard
	}
}

func clampScore(v int) int {
	return max(MinUrgencyScore, min(MaxUrgencyScore, v))
}

// Score combines the model's suggestion with every floor and clamps to 1..10.
func (p ScoringPolicy) Score(suggested int, symptoms []Symptom, risks []PotentialRisk, flags []RedFlag) int {
	score := suggested

	severe := 0
	for _, s := range symptoms {
		score = max(score, p.SeverityFloor[s.Severity])
		if s.Severity == SeveritySevere {
			severe++
		}
	}
	if severe >= 2 {
		score = max(score, p.SeverityFloor[SeveritySevere]+p.MultiSevereBonus)
	}

	for _, r := range risks {
		score = max(score, p.RiskFloor[r.Probability])
	}

	immediate := 0
	for _, f := range flags {
		switch f.UrgencyLevel {
		case UrgencyImmediate:
			immediate++
		case UrgencyUrgent:
			score = max(score, p.UrgentFlagFloor)
		}
	}
	switch {
	case immediate >= 2:
		score = max(score, p.MultiImmediateFloor)
	case immediate == 1:
		score = max(score, p.ImmediateFlagFloor)
	}

	return clampScore(score)
}

var probabilityRank = map[Probability]int{
	ProbabilityLow:    1,
	ProbabilityMedium: 2,
	ProbabilityHigh:   3,
}

// SelectSpecialty picks the specialty of the most probable risk. The first
// risk wins ties; risks without a specialty are skipped.
func SelectSpecialty(risks []PotentialRisk) string {
	best, rank := "", 0
	for _, r := range risks {
		specialty := strings.TrimSpace(r.SpecialtyNeeded)
		if specialty == "" {
			continue
		}
		if pr := probabilityRank[r.Probability]; pr > rank {
			best, rank = specialty, pr
		}
	}
	if best == "" {
		return GeneralMedicine
	}
	return best
}

const lowInformationAction = "Not enough information to assess urgency. Describe what you feel, how long it has lasted and how severe it is; if you feel very unwell, call 108 or 112."

// ActionFor returns the directive for a category, followed by the action of
// the most urgent red flag when there is one.
func ActionFor(category Category, score int, flags []RedFlag) string {
	var directive string
	switch {
	case category == CategoryImmediate:
		directive = "EMERGENCY: seek immediate medical attention. Call 108 or 112, or go to the nearest emergency department."
	case category == CategoryUrgent:
		directive = "See a doctor within 4-6 hours."
	case score >= 4:
		directive = "Schedule a consultation within 24-48 hours."
	default:
		directive = "Self-care is likely sufficient; book a routine consultation if symptoms persist or worsen."
	}

	var lead *RedFlag
	for i := range flags {
		if flags[i].UrgencyLevel == UrgencyImmediate {
			lead = &flags[i]
			break
		}
		if lead == nil {
			lead = &flags[i]
		}
	}
	if lead == nil || strings.TrimSpace(lead.ActionRequired) == "" {
		return directive
	}
	return directive + " " + strings.TrimSpace(lead.ActionRequired)
}

// Apply turns a validated draft plus taxonomy findings into a Result that
// satisfies every invariant.
func (p ScoringPolicy) Apply(d *draft, detected []RedFlag, input string, now time.Time) *Result {
	flags := mergeRedFlags(d.RedFlags, detected)

	r := &Result{
		ChiefComplaint: strings.TrimSpace(d.ChiefComplaint),
		Symptoms:       make([]Symptom, 0, len(d.Symptoms)),
		RedFlags:       flags,
		PotentialRisks: append([]PotentialRisk{}, d.PotentialRisks...),
		Timestamp:      now,
	}
	if r.ChiefComplaint == "" {
		r.ChiefComplaint = strings.TrimSpace(input)
	}
	for _, s := range d.Symptoms {
		if s.AssociatedSymptoms == nil {
			s.AssociatedSymptoms = []string{}
		}
		r.Symptoms = append(r.Symptoms, s)
	}
	r.RecommendedSpecialty = SelectSpecialty(r.PotentialRisks)

	if len(r.Symptoms) == 0 && len(r.RedFlags) == 0 {
		r.UrgencyScore = MinUrgencyScore
		r.TriageCategory = CategoryStandard
		r.LowInformation = true
		r.ActionRequired = lowInformationAction
		return r
	}

	r.UrgencyScore = p.Score(d.SuggestedUrgency, r.Symptoms, r.PotentialRisks, r.RedFlags)
	r.TriageCategory = CategoryForScore(r.UrgencyScore)
	r.EmergencyDetected = r.TriageCategory == CategoryImmediate || r.HasImmediateFlag()
	r.ActionRequired = ActionFor(r.TriageCategory, r.UrgencyScore, r.RedFlags)
	return r
}
