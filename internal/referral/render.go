package referral

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/arovia/internal/triage"
)

// Disclaimer closes every rendered note.
const Disclaimer = `Arovia is a triage support tool and does NOT provide medical diagnoses.
This assessment should not replace consultation with qualified healthcare
professionals. If this is a medical emergency, call 108 immediately.`

const timeLayout = time.RFC3339

// Section headings, in render order.
const (
	HeadingSummary    = "CLINICAL SUMMARY"
	HeadingUrgency    = "URGENCY ASSESSMENT"
	HeadingRisks      = "POTENTIAL RISKS"
	HeadingFacilities = "RECOMMENDED FACILITIES"
	HeadingDisclaimer = "DISCLAIMER"
)

// Render formats a note as plain text. The output depends only on the
// note, so rendering the same note twice yields identical bytes.
func Render(note *triage.ReferralNote) (string, error) {
	if note == nil || note.TriageResult == nil {
		return "", ErrNoResult
	}
	r := note.TriageResult

	var b strings.Builder
	b.WriteString("AROVIA REFERRAL NOTE\n")
	fmt.Fprintf(&b, "Generated: %s\n", note.GeneratedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "Patient ID: %s\n", orNone(note.PatientID, "not provided"))

	heading(&b, HeadingSummary)
	fmt.Fprintf(&b, "Chief complaint: %s\n", r.ChiefComplaint)
	fmt.Fprintf(&b, "Assessed at: %s\n", r.Timestamp.UTC().Format(timeLayout))
	b.WriteString("Symptoms:\n")
	if len(r.Symptoms) == 0 {
		b.WriteString("  none reported\n")
	}
	for i, s := range r.Symptoms {
		fmt.Fprintf(&b, "  %d. %s (%s)\n", i+1, s.Name, s.Severity)
		if s.Duration != "" {
			fmt.Fprintf(&b, "     Duration: %s\n", s.Duration)
		}
		if len(s.AssociatedSymptoms) > 0 {
			fmt.Fprintf(&b, "     Associated: %s\n", strings.Join(s.AssociatedSymptoms, ", "))
		}
	}

	heading(&b, HeadingUrgency)
	fmt.Fprintf(&b, "Urgency score: %d/%d\n", r.UrgencyScore, triage.MaxUrgencyScore)
	fmt.Fprintf(&b, "Triage category: %s\n", strings.ToUpper(string(r.TriageCategory)))
	fmt.Fprintf(&b, "Emergency detected: %s\n", yesNo(r.EmergencyDetected))
	fmt.Fprintf(&b, "Low information: %s\n", yesNo(r.LowInformation))
	fmt.Fprintf(&b, "Recommended specialty: %s\n", r.RecommendedSpecialty)
	fmt.Fprintf(&b, "Action required: %s\n", r.ActionRequired)
	b.WriteString("Red flags:\n")
	if len(r.RedFlags) == 0 {
		b.WriteString("  none\n")
	}
	for _, f := range r.RedFlags {
		fmt.Fprintf(&b, "  - [%s, %s] %s\n", f.FlagType, f.UrgencyLevel, f.Description)
		fmt.Fprintf(&b, "    Action: %s\n", f.ActionRequired)
	}

	heading(&b, HeadingRisks)
	if len(r.PotentialRisks) == 0 {
		b.WriteString("  none identified\n")
	}
	for _, p := range r.PotentialRisks {
		fmt.Fprintf(&b, "  - %s (probability: %s, specialty: %s)\n", p.Condition, p.Probability, orNone(p.SpecialtyNeeded, "unspecified"))
	}

	heading(&b, HeadingFacilities)
	if len(note.RecommendedFacilities) == 0 {
		b.WriteString("  No facilities matched the provided location.\n")
	}
	for i, f := range note.RecommendedFacilities {
		fmt.Fprintf(&b, "  %d. %s [%s]\n", i+1, f.Name, f.Type)
		if f.Address != "" {
			fmt.Fprintf(&b, "     Address: %s\n", f.Address)
		}
		fmt.Fprintf(&b, "     Distance: %.2f km\n", f.DistanceKM)
		fmt.Fprintf(&b, "     Specialty: %s\n", f.Specialty)
		if len(f.Services) > 0 {
			fmt.Fprintf(&b, "     Services: %s\n", strings.Join(f.Services, ", "))
		}
		if f.Contact != "" {
			fmt.Fprintf(&b, "     Contact: %s\n", f.Contact)
		}
		if f.MapLink != "" {
			fmt.Fprintf(&b, "     Map: %s\n", f.MapLink)
		}
	}

	heading(&b, HeadingDisclaimer)
	b.WriteString(Disclaimer)
	b.WriteString("\n")
	return b.String(), nil
}

func heading(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orNone(s, none string) string {
	if strings.TrimSpace(s) == "" {
		return none
	}
	return s
}
