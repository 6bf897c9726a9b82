// Package facility is the Facility Matcher: it resolves a free-text
// location, pulls candidate facilities from a directory and ranks them by
// specialty match, distance and facility type.
package facility

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/arovia/internal/triage"
)

const tracerName = "github.com/linnemanlabs/arovia/internal/facility"

// Search defaults.
const (
	DefaultRadiusKM = 10.0
	DefaultLimit    = 10

	emergencyLimit = 3
	referralLimit  = 5
)

// Options narrows a search. Zero values select the defaults; a negative
// Limit means no limit.
type Options struct {
	RadiusKM float64
	Limit    int
	// EmergencyOnly keeps facilities offering emergency care.
	EmergencyOnly bool
}

// Matcher ranks facilities for a specialty near a location.
type Matcher struct {
	dir      Directory
	geocoder Geocoder
	logger   log.Logger
	hooks    triage.EngineHooks
}

// NewMatcher creates a matcher. geocoder may be nil, in which case only
// "lat,lon" locations resolve.
func NewMatcher(dir Directory, geocoder Geocoder, logger log.Logger, hooks triage.EngineHooks) *Matcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Matcher{dir: dir, geocoder: geocoder, logger: logger, hooks: hooks}
}

type candidate struct {
	f    triage.Facility
	tier int
	rank int
}

// Match returns facilities for specialty near location, best first.
// The only error is a FacilityLookupError for malformed location input
// (or the context error); an empty or unresolvable location, and any
// directory or geocoder failure, yield an empty list.
func (m *Matcher) Match(ctx context.Context, specialty, location string, opts Options) ([]triage.Facility, error) {
	if opts.RadiusKM <= 0 {
		opts.RadiusKM = DefaultRadiusKM
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "facility.match")
	defer span.End()

	wanted := CanonicalSpecialty(specialty)
	span.SetAttributes(
		attribute.String("facility.specialty", wanted),
		attribute.Float64("facility.radius_km", opts.RadiusKM),
	)
	L := m.logger.With("specialty", wanted, "radius_km", opts.RadiusKM)

	outcome := "error"
	var out []triage.Facility
	defer func() {
		if m.hooks.OnFacilityLookup != nil {
			m.hooks.OnFacilityLookup(outcome, len(out))
		}
	}()

	location = strings.TrimSpace(location)
	if location == "" {
		outcome = "no_location"
		return []triage.Facility{}, nil
	}
	if err := checkLocation(location); err != nil {
		outcome = "malformed"
		span.SetStatus(codes.Error, "malformed location")
		return nil, &triage.FacilityLookupError{Location: location, Malformed: true, Err: err}
	}

	center, ok, err := m.resolve(ctx, location)
	if err != nil {
		var fe *triage.FacilityLookupError
		if errors.As(err, &fe) {
			outcome = "malformed"
			span.SetStatus(codes.Error, "malformed location")
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcome = "geocode_error"
		L.Warn(ctx, "geocoding failed, returning no facilities", "err", err)
		span.RecordError(err)
		return []triage.Facility{}, nil
	}
	if !ok {
		outcome = "unresolved"
		L.Info(ctx, "location not found")
		return []triage.Facility{}, nil
	}

	records, err := m.dir.Nearby(ctx, center, opts.RadiusKM)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcome = "directory_error"
		L.Error(ctx, err, "facility directory lookup failed")
		span.RecordError(err)
		return []triage.Facility{}, nil
	}

	out = rank(records, center, wanted, opts)
	outcome = "ok"
	if len(out) == 0 {
		outcome = "empty"
	}
	span.SetAttributes(attribute.Int("facility.results", len(out)))
	L.Info(ctx, "facility match complete", "candidates", len(records), "results", len(out))
	return out, nil
}

// MatchForResult searches around location for a triage result: higher
// urgency tightens the radius, and an emergency prefers emergency-capable
// facilities when any are in range.
func (m *Matcher) MatchForResult(ctx context.Context, r *triage.Result, location string) ([]triage.Facility, error) {
	opts := Options{RadiusKM: RadiusForScore(r.UrgencyScore), Limit: -1}
	all, err := m.Match(ctx, r.RecommendedSpecialty, location, opts)
	if err != nil {
		return nil, err
	}

	if r.EmergencyDetected {
		emergency := slices.DeleteFunc(slices.Clone(all), func(f triage.Facility) bool {
			return !emergencyCapable(f.Services)
		})
		if len(emergency) > 0 {
			return truncate(emergency, emergencyLimit), nil
		}
	}
	return truncate(all, referralLimit), nil
}

// RadiusForScore is the search radius for an urgency score.
func RadiusForScore(score int) float64 {
	switch {
	case score >= 8:
		return 5
	case score >= 6:
		return 8
	default:
		return DefaultRadiusKM
	}
}

func (m *Matcher) resolve(ctx context.Context, location string) (Point, bool, error) {
	p, literal, err := parseCoordinates(location)
	if literal {
		if err != nil {
			return Point{}, false, &triage.FacilityLookupError{Location: location, Malformed: true, Err: err}
		}
		return p, true, nil
	}
	if m.geocoder == nil {
		return Point{}, false, nil
	}
	return m.geocoder.Geocode(ctx, location)
}

// rank builds facilities from records and orders them: exact specialty
// before general facilities, then distance, then type. Records of other
// specialties are dropped. The sort is stable so equal candidates keep
// directory order.
func rank(records []Record, center Point, wanted string, opts Options) []triage.Facility {
	cands := make([]candidate, 0, len(records))
	for i := range records {
		r := &records[i]
		dist := roundKM(DistanceKM(center, r.Point()))
		if dist > opts.RadiusKM {
			continue
		}
		f := toFacility(r, dist)
		tier, ok := specialtyTier(f, wanted)
		if !ok {
			continue
		}
		if opts.EmergencyOnly && !emergencyCapable(f.Services) {
			continue
		}
		cands = append(cands, candidate{f: f, tier: tier, rank: typeRank[f.Type]})
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		if a.tier != b.tier {
			return a.tier - b.tier
		}
		if a.f.DistanceKM != b.f.DistanceKM {
			if a.f.DistanceKM < b.f.DistanceKM {
				return -1
			}
			return 1
		}
		return a.rank - b.rank
	})

	out := make([]triage.Facility, len(cands))
	for i, c := range cands {
		out[i] = c.f
	}
	return truncate(out, opts.Limit)
}

// specialtyTier is 0 for a specialty match, 1 for a general facility.
// Every facility offers a general consultation, so a general search only
// matches on the facility's own specialty.
func specialtyTier(f triage.Facility, wanted string) (int, bool) {
	own := CanonicalSpecialty(f.Specialty)
	if own == wanted {
		return 0, true
	}
	if wanted == "general" {
		return 0, false
	}
	for _, s := range f.Services {
		if CanonicalSpecialty(s) == wanted {
			return 0, true
		}
	}
	if own == "general" {
		return 1, true
	}
	return 0, false
}

func toFacility(r *Record, dist float64) triage.Facility {
	f := triage.Facility{
		Name:       r.Name,
		Address:    r.Address,
		DistanceKM: dist,
		Specialty:  r.Specialty,
		Services:   slices.Clone(r.Services),
		Contact:    r.Contact,
		MapLink:    MapLink(r.Point()),
		Type:       r.Type,
	}
	if f.Specialty == "" {
		f.Specialty = triage.GeneralMedicine
	}
	if !f.Type.Valid() {
		f.Type = ClassifyType(r.Name, r.Address)
	}
	if len(f.Services) == 0 {
		f.Services = InferServices(r.Name, r.Address, f.Specialty)
	}
	return f
}

func truncate(fs []triage.Facility, limit int) []triage.Facility {
	if limit >= 0 && len(fs) > limit {
		return fs[:limit]
	}
	return fs
}
