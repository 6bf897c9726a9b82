package facility

import (
	"strings"

	"github.com/linnemanlabs/arovia/internal/triage"
)

type keywordRule[T any] struct {
	value    T
	keywords []string
}

// Canonical specialty keys. Order matters: the first rule with a matching
// keyword wins, so "Pediatric Cardiology" is cardiology.
var specialtyRules = []keywordRule[string]{
	{"cardiology", []string{"cardio", "cardiac", "heart"}},
	{"neurology", []string{"neuro", "brain", "stroke", "seizure"}},
	{"pulmonology", []string{"pulmo", "lung", "respiratory", "breathing", "asthma"}},
	{"orthopedics", []string{"ortho", "bone", "joint", "fracture", "spine"}},
	{"pediatrics", []string{"pediatric", "paediatric", "child", "infant", "baby"}},
	{"gynecology", []string{"gyn", "obstetric", "women", "pregnancy", "maternal", "reproductive"}},
	{"dermatology", []string{"derma", "skin", "rash"}},
	{"psychiatry", []string{"psych", "mental", "depression", "anxiety"}},
	{"emergency", []string{"emergency", "trauma", "urgent", "critical", "casualty"}},
	{"general", []string{"general", "family", "primary", "internal medicine", "clinic"}},
}

var typeRules = []keywordRule[triage.FacilityType]{
	{triage.FacilityGovernment, []string{"government", "govt", "public", "municipal", "district", "civil", "aiims", "nims"}},
	{triage.FacilityPrivate, []string{"private", "corporate", "multispecialty", "multi-specialty", "hospital"}},
	{triage.FacilityNGO, []string{"ngo", "charitable", "trust", "foundation", "mission"}},
	{triage.FacilityLocal, []string{"local", "community", "rural", "primary", "health center", "health centre"}},
}

var serviceRules = []keywordRule[string]{
	{"Emergency Care", []string{"emergency", "trauma", "casualty"}},
	{"Surgical Services", []string{"surgery", "surgical"}},
	{"Laboratory Services", []string{"lab", "laboratory", "diagnostic"}},
	{"Imaging Services", []string{"x-ray", "imaging", "scan"}},
	{"Pharmacy", []string{"pharmacy", "chemist"}},
}

var typeRank = map[triage.FacilityType]int{
	triage.FacilityGovernment: 0,
	triage.FacilityPrivate:    1,
	triage.FacilityNGO:        2,
	triage.FacilityLocal:      3,
}

func matchRule[T any](rules []keywordRule[T], text string) (T, bool) {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.value, true
			}
		}
	}
	var zero T
	return zero, false
}

// CanonicalSpecialty folds a specialty name ("Cardiologist", "Heart
// Specialist", "Cardiology Services") to its canonical key. Unknown
// specialties are returned lowercased; the empty string is general.
func CanonicalSpecialty(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "general"
	}
	if v, ok := matchRule(specialtyRules, s); ok {
		return v
	}
	return s
}

// ClassifyType infers a facility type from its name and address. The
// original keyword order applies, so a name containing "hospital" is
// private unless a government keyword appears first.
func ClassifyType(name, address string) triage.FacilityType {
	if t, ok := matchRule(typeRules, strings.ToLower(name+" "+address)); ok {
		return t
	}
	return triage.FacilityLocal
}

// InferServices derives a service list from a facility's name and address
// for records that carry none.
func InferServices(name, address, specialty string) []string {
	text := strings.ToLower(name + " " + address)
	services := []string{"General Consultation"}

	canon := CanonicalSpecialty(specialty)
	if canon != "general" && canon != "emergency" {
		for _, r := range specialtyRules {
			if r.value != canon {
				continue
			}
			for _, kw := range r.keywords {
				if strings.Contains(text, kw) {
					services = append(services, titleCase(canon)+" Services")
					break
				}
			}
			break
		}
	}

	for _, r := range serviceRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				services = append(services, r.value)
				break
			}
		}
	}
	return services
}

// emergencyCapable reports whether any service is emergency care.
func emergencyCapable(services []string) bool {
	for _, s := range services {
		if CanonicalSpecialty(s) == "emergency" {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
