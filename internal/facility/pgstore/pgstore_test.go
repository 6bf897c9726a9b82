package pgstore_test

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/linnemanlabs/arovia/internal/facility"
	"github.com/linnemanlabs/arovia/internal/facility/pgstore"
	"github.com/linnemanlabs/arovia/internal/postgres"
	"github.com/linnemanlabs/arovia/internal/triage"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("AROVIA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AROVIA_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

// Each test works around its own remote coordinates so runs against a
// shared database do not see each other's rows.
func TestUpsertAndNearby(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	center := facility.Point{Lat: -75.1, Lon: 123.3}
	records := []facility.Record{
		{
			Name: "Pgstore Heart Institute", Address: "Test Station 1",
			Lat: center.Lat, Lon: center.Lon + 0.01,
			Specialty: "Cardiology", Services: []string{"Cardiology Services", "Emergency Care"},
			Contact: "+91-00-0000", Type: triage.FacilityPrivate,
		},
		{
			Name: "Pgstore Clinic", Address: "Test Station 2",
			Lat: center.Lat + 0.02, Lon: center.Lon,
		},
		{
			Name: "Pgstore Far Clinic", Address: "Test Station 3",
			Lat: center.Lat + 2, Lon: center.Lon,
		},
	}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Nearby(ctx, center, 10)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Nearby returned %d records, want 2: %+v", len(got), got)
	}
	assertEqual(t, "first name", "Pgstore Heart Institute", got[0].Name)
	assertEqual(t, "second name", "Pgstore Clinic", got[1].Name)
	assertEqual(t, "type", triage.FacilityPrivate, got[0].Type)
	assertEqual(t, "contact", "+91-00-0000", got[0].Contact)
	if !slices.Equal(got[0].Services, records[0].Services) {
		t.Errorf("services = %v", got[0].Services)
	}
	if got[1].Services != nil || got[1].Type != "" {
		t.Errorf("untyped record = %+v", got[1])
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r := facility.Record{Name: "Pgstore Update Hospital", Address: "Test Station 4", Lat: -76.2, Lon: 100.5, Specialty: "Neurology"}
	if err := s.Upsert(ctx, []facility.Record{r}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	r.Specialty = "Pulmonology"
	r.Type = triage.FacilityGovernment
	if err := s.Upsert(ctx, []facility.Record{r}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, r.Name, r.Address)
	if err != nil || !ok {
		t.Fatalf("Get = %t, %v", ok, err)
	}
	assertEqual(t, "specialty", "Pulmonology", got.Specialty)
	assertEqual(t, "type", triage.FacilityGovernment, got.Type)

	near, err := s.Nearby(ctx, facility.Point{Lat: r.Lat, Lon: r.Lon}, 1)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	assertEqual(t, "rows after update", 1, len(near))
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "Pgstore Nowhere", "none")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for missing facility")
	}
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	bad := []facility.Record{
		{Name: "Pgstore Valid", Address: "Test Station 5", Lat: -77.3, Lon: 90.1},
		{Name: "Pgstore Invalid", Address: "Test Station 6", Lat: 120, Lon: 0},
	}
	if err := s.Upsert(ctx, bad); err == nil {
		t.Fatal("Upsert accepted an out-of-range latitude")
	}
	if _, ok, _ := s.Get(ctx, bad[0].Name, bad[0].Address); ok {
		t.Error("valid record written despite batch rejection")
	}
}

func TestMatcherOverStore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	center := facility.Point{Lat: -78.4, Lon: 60.2}
	if err := s.Upsert(ctx, []facility.Record{
		{Name: "Pgstore General", Address: "Test Station 7", Lat: center.Lat + 0.01, Lon: center.Lon, Specialty: "General Medicine"},
		{Name: "Pgstore Neuro Centre", Address: "Test Station 8", Lat: center.Lat + 0.03, Lon: center.Lon, Specialty: "Neurology"},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	m := facility.NewMatcher(s, nil, nil, triage.EngineHooks{})
	got, err := m.Match(ctx, "Neurology", center.String(), facility.Options{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Match returned %d facilities", len(got))
	}
	assertEqual(t, "top match", "Pgstore Neuro Centre", got[0].Name)
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}
