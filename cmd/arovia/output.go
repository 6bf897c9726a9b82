package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/referral"
	"github.com/linnemanlabs/arovia/internal/triage"
)

type styles struct {
	title     lipgloss.Style
	label     lipgloss.Style
	dim       lipgloss.Style
	alert     lipgloss.Style
	immediate lipgloss.Style
	urgent    lipgloss.Style
	standard  lipgloss.Style
}

// newStyles binds styles to w so colors are dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	badge := r.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#ffffff"))
	return styles{
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		label:     r.NewStyle().Bold(true),
		dim:       r.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		alert:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
		immediate: badge.Background(lipgloss.Color("#d70000")),
		urgent:    badge.Background(lipgloss.Color("#d78700")),
		standard:  badge.Background(lipgloss.Color("#008700")),
	}
}

func (s styles) category(c triage.Category) string {
	label := strings.ToUpper(string(c))
	switch c {
	case triage.CategoryImmediate:
		return s.immediate.Render(label)
	case triage.CategoryUrgent:
		return s.urgent.Render(label)
	}
	return s.standard.Render(label)
}

func (c *cli) printOutcome(w io.Writer, out *pipeline.Outcome, render bool) error {
	if c.jsonOut {
		return writeJSON(w, out)
	}
	s := newStyles(w)

	if vi := out.Voice; vi != nil {
		lang := vi.Language
		if lang == "" {
			lang = "auto"
		}
		fmt.Fprintf(w, "%s %q %s\n", s.label.Render("Transcript:"), vi.TranscribedText,
			s.dim.Render(fmt.Sprintf("(%s, confidence %.2f)", lang, vi.Confidence)))
		if vi.LowConfidence {
			fmt.Fprintln(w, s.alert.Render("Low confidence transcript; check it before relying on the assessment."))
		}
	}

	if out.Rejected() {
		fmt.Fprintf(w, "%s %s\n", s.label.Render("Not assessed:"), out.Relevance.Reason)
		return nil
	}

	r := out.Result
	fmt.Fprintf(w, "%s  %s  %s\n", s.title.Render("TRIAGE"), s.category(r.TriageCategory),
		s.label.Render(fmt.Sprintf("%d/10", r.UrgencyScore)))
	if r.EmergencyDetected {
		fmt.Fprintln(w, s.alert.Render("EMERGENCY: call 108 or 112 now."))
	}
	fmt.Fprintf(w, "%s %s\n", s.label.Render("Complaint:"), r.ChiefComplaint)
	fmt.Fprintf(w, "%s %s\n", s.label.Render("Specialty:"), r.RecommendedSpecialty)
	fmt.Fprintf(w, "%s %s\n", s.label.Render("Action:   "), r.ActionRequired)
	if r.LowInformation {
		fmt.Fprintln(w, s.dim.Render("Not enough detail was given for a confident assessment."))
	}

	if len(r.Symptoms) > 0 {
		fmt.Fprintln(w, "\n"+s.label.Render("Symptoms"))
		for _, sym := range r.Symptoms {
			line := fmt.Sprintf("  - %s (%s)", sym.Name, sym.Severity)
			if sym.Duration != "" {
				line += ", " + sym.Duration
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(r.RedFlags) > 0 {
		fmt.Fprintln(w, "\n"+s.label.Render("Red flags"))
		for _, f := range r.RedFlags {
			fmt.Fprintf(w, "  %s %s: %s\n", s.alert.Render("!"), f.FlagType, f.Description)
		}
	}
	if len(r.PotentialRisks) > 0 {
		fmt.Fprintln(w, "\n"+s.label.Render("Potential risks"))
		for _, p := range r.PotentialRisks {
			fmt.Fprintf(w, "  - %s (%s probability, %s)\n", p.Condition, p.Probability, p.SpecialtyNeeded)
		}
	}

	if note := out.Referral; note != nil {
		fmt.Fprintln(w, "\n"+s.label.Render("Facilities"))
		s.facilities(w, note.RecommendedFacilities)
		if render {
			text, err := referral.Render(note)
			if err != nil {
				return err
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, text)
		}
	}

	fmt.Fprintln(w, "\n"+s.dim.Render("request "+out.RequestID))
	return nil
}

func (s styles) facilities(w io.Writer, facilities []triage.Facility) {
	if len(facilities) == 0 {
		fmt.Fprintln(w, s.dim.Render("  No facilities matched the provided location."))
		return
	}
	for i, f := range facilities {
		fmt.Fprintf(w, "  %d. %s %s  %s\n", i+1, s.label.Render(f.Name), s.dim.Render("["+string(f.Type)+"]"),
			fmt.Sprintf("%.1f km", f.DistanceKM))
		fmt.Fprintf(w, "     %s\n", f.Address)
		if f.Contact != "" {
			fmt.Fprintf(w, "     %s\n", f.Contact)
		}
		if f.MapLink != "" {
			fmt.Fprintf(w, "     %s\n", s.dim.Render(f.MapLink))
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
