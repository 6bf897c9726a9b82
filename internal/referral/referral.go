// Package referral assembles referral notes from a triage result and its
// ranked facilities, and renders them as plain text for export.
package referral

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/arovia/internal/triage"
)

// ErrNoResult is returned when a note is assembled without an assessment.
var ErrNoResult = errors.New("referral: triage result is required")

// Assemble builds a ReferralNote that owns deep copies of result and
// facilities. The note's GeneratedAt is now in UTC and never changes
// afterwards. A nil facility list becomes an empty one.
func Assemble(result *triage.Result, facilities []triage.Facility, patientID string, now time.Time) (*triage.ReferralNote, error) {
	if result == nil {
		return nil, ErrNoResult
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("referral: invalid triage result: %w", err)
	}
	for i := range facilities {
		if err := validateFacility(&facilities[i]); err != nil {
			return nil, fmt.Errorf("referral: facility %d: %w", i, err)
		}
	}
	return &triage.ReferralNote{
		PatientID:             patientID,
		TriageResult:          result.Clone(),
		RecommendedFacilities: triage.CloneFacilities(facilities),
		GeneratedAt:           now.UTC(),
	}, nil
}

func validateFacility(f *triage.Facility) error {
	if f.Name == "" {
		return errors.New("name is required")
	}
	if f.DistanceKM < 0 {
		return fmt.Errorf("negative distance %v", f.DistanceKM)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("invalid facility_type %q", f.Type)
	}
	return nil
}

// MarshalNote encodes a note as indented JSON using the snake_case field
// names of the model types.
func MarshalNote(note *triage.ReferralNote) ([]byte, error) {
	if note == nil || note.TriageResult == nil {
		return nil, ErrNoResult
	}
	return json.MarshalIndent(note, "", "  ")
}

// UnmarshalNote decodes and validates a note produced by MarshalNote.
// Closed enum fields reject unknown values while decoding.
func UnmarshalNote(data []byte) (*triage.ReferralNote, error) {
	var note triage.ReferralNote
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, fmt.Errorf("referral: decode note: %w", err)
	}
	if note.TriageResult == nil {
		return nil, ErrNoResult
	}
	if err := note.TriageResult.Validate(); err != nil {
		return nil, fmt.Errorf("referral: invalid triage result: %w", err)
	}
	for i := range note.RecommendedFacilities {
		if err := validateFacility(&note.RecommendedFacilities[i]); err != nil {
			return nil, fmt.Errorf("referral: facility %d: %w", i, err)
		}
	}
	if note.RecommendedFacilities == nil {
		note.RecommendedFacilities = []triage.Facility{}
	}
	return &note, nil
}
