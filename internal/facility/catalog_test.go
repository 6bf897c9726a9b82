package facility

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/arovia/internal/triage"
)

func TestLoadCatalog_Builtin(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if c.Len() < 10 {
		t.Fatalf("builtin catalog has %d records", c.Len())
	}
	for _, r := range c.Records() {
		if err := r.Validate(); err != nil {
			t.Errorf("%s: %v", r.Name, err)
		}
	}

	// Cardiology near central Hyderabad resolves from the builtin data.
	m := NewMatcher(c, nil, nil, triage.EngineHooks{})
	got, err := m.Match(context.Background(), "Cardiology", "17.385,78.4867", Options{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) == 0 || CanonicalSpecialty(got[0].Specialty) != "cardiology" {
		t.Errorf("top result = %+v", got)
	}
}

func TestLoadCatalog_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "facilities.yaml")
	doc := `facilities:
  - name: Test Clinic
    address: Somewhere
    lat: 12.97
    lon: 77.59
    specialty: Dermatology
    type: ngo
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	recs := c.Records()
	if len(recs) != 1 || recs[0].Type != triage.FacilityNGO || recs[0].Lat != 12.97 {
		t.Errorf("records = %+v", recs)
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad type":    "facilities:\n  - {name: X, lat: 1, lon: 1, type: hospital}\n",
		"no name":     "facilities:\n  - {lat: 1, lon: 1}\n",
		"bad coords":  "facilities:\n  - {name: X, lat: 100, lon: 1}\n",
		"not yaml":    "facilities: [",
		"wrong shape": "facilities: 3\n",
	}
	for name, doc := range tests {
		if _, err := ParseCatalog([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCatalog_NearbyCopies(t *testing.T) {
	t.Parallel()

	c := NewCatalog([]Record{
		rec("A", "Cardiology", north(1), triage.FacilityPrivate, "Cardiology Services"),
		rec("B", "Cardiology", north(50), triage.FacilityPrivate),
	})
	got, err := c.Nearby(context.Background(), Point{}, 10)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(got) != 1 || got[0].Name != "A" {
		t.Fatalf("Nearby = %+v", got)
	}
	got[0].Services[0] = "mutated"
	if again, _ := c.Nearby(context.Background(), Point{}, 10); !strings.HasPrefix(again[0].Services[0], "Cardiology") {
		t.Error("Nearby exposes catalog storage")
	}
}
