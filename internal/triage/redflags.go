package triage

import (
	"strings"
	"unicode"
)

type flagRule struct {
	flagType FlagType
	urgency  UrgencyLevel
	action   string
	keywords []string
}

// taxonomy is the local emergency keyword table. Order is significant: it
// fixes the order of detected flags.
var taxonomy = []flagRule{
	{
		flagType: FlagCardiac,
		urgency:  UrgencyImmediate,
		action:   "Call emergency services (108 or 112) now; stop all exertion and stay seated until help arrives.",
		keywords: []string{
			"chest pain", "heart attack", "crushing chest pressure",
			"pain radiating to arm", "pain radiating to jaw",
			"severe palpitations", "heart racing", "cardiac arrest",
		},
	},
	{
		flagType: FlagNeurological,
		urgency:  UrgencyImmediate,
		action:   "Call emergency services (108 or 112) now and note the time the symptoms started.",
		keywords: []string{
			"stroke", "face drooping", "arm weakness", "slurred speech",
			"sudden severe headache", "loss of consciousness", "seizure",
			"paralysis", "numbness", "confusion", "difficulty speaking",
		},
	},
	{
		flagType: FlagRespiratory,
		urgency:  UrgencyImmediate,
		action:   "Call emergency services (108 or 112) now; sit upright and loosen tight clothing.",
		keywords: []string{
			"can't breathe", "cannot breathe", "choking", "severe shortness of breath",
			"blue lips", "gasping for air", "respiratory distress",
			"chest tightness", "wheezing",
		},
	},
	{
		flagType: FlagTrauma,
		urgency:  UrgencyUrgent,
		action:   "Go to the nearest emergency department; apply firm pressure to any bleeding and do not move a possibly injured neck or spine.",
		keywords: []string{
			"severe bleeding", "head injury", "broken bone visible",
			"penetrating wound", "unconscious after injury", "major trauma",
			"car accident", "fall from height",
		},
	},
	{
		flagType: FlagMentalHealth,
		urgency:  UrgencyUrgent,
		action:   "Contact Tele-MANAS (14416) or emergency services now and do not stay alone.",
		keywords: []string{
			"suicide", "want to die", "self-harm", "self harm", "kill myself",
			"suicidal thoughts", "harm myself",
		},
	},
	{
		flagType: FlagOther,
		urgency:  UrgencyUrgent,
		action:   "Go to the nearest emergency department within the hour.",
		keywords: []string{
			"severe abdominal pain", "pregnancy bleeding",
			"high fever in infant", "allergic reaction swelling",
			"anaphylaxis", "severe allergic reaction",
		},
	},
}

// TaxonomyUrgency returns the urgency the local taxonomy assigns to a flag type.
func TaxonomyUrgency(ft FlagType) UrgencyLevel {
	for _, r := range taxonomy {
		if r.flagType == ft {
			return r.urgency
		}
	}
	return UrgencyUrgent
}

// DetectRedFlags scans text against the emergency keyword taxonomy and
// returns at most one flag per flag type, in taxonomy order. Matching is
// case-insensitive on word boundaries.
func DetectRedFlags(text string) []RedFlag {
	norm := normalizeForMatch(text)
	if norm == "" {
		return nil
	}

	var out []RedFlag
	for _, rule := range taxonomy {
		var hits []string
		for _, kw := range rule.keywords {
			if strings.Contains(norm, normalizeForMatch(kw)) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		out = append(out, RedFlag{
			FlagType:       rule.flagType,
			Description:    "Reported " + strings.Join(hits, ", "),
			UrgencyLevel:   rule.urgency,
			ActionRequired: rule.action,
		})
	}
	return out
}

// normalizeForMatch lowercases, folds curly apostrophes, turns every other
// non-letter/digit into a single space and pads with spaces so that
// keyword containment checks respect word boundaries.
func normalizeForMatch(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’':
			b.WriteByte('\'')
			space = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	out := b.String()
	if strings.TrimSpace(out) == "" {
		return ""
	}
	return out
}

// mergeRedFlags combines model-reported flags with taxonomy flags. The
// taxonomy can raise a flag's urgency but never lower it; taxonomy flags
// whose type the model did not report are appended.
func mergeRedFlags(model, detected []RedFlag) []RedFlag {
	out := make([]RedFlag, 0, len(model)+len(detected))
	seen := make(map[FlagType]int, len(model))
	for _, f := range model {
		// cardiac, neurological and respiratory flags are always immediate
		if TaxonomyUrgency(f.FlagType) == UrgencyImmediate {
			f.UrgencyLevel = UrgencyImmediate
		}
		if _, ok := seen[f.FlagType]; !ok {
			seen[f.FlagType] = len(out)
		}
		out = append(out, f)
	}
	for _, d := range detected {
		i, ok := seen[d.FlagType]
		if !ok {
			seen[d.FlagType] = len(out)
			out = append(out, d)
			continue
		}
		if d.UrgencyLevel == UrgencyImmediate {
			out[i].UrgencyLevel = UrgencyImmediate
		}
	}
	return out
}
