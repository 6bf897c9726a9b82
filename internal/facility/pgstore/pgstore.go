// Package pgstore provides a PostgreSQL facility directory.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/arovia/internal/facility"
	"github.com/linnemanlabs/arovia/internal/triage"
)

const tracerName = "github.com/linnemanlabs/arovia/internal/facility/pgstore"

//go:embed schema.sql
var schema string

// Store reads and writes facilities in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", "facilities"),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const facilityColumns = `name, address, latitude, longitude, specialty, services, contact, facility_type`

// Nearby implements facility.Directory with a bounding-box query. Rows come
// back in insertion order so ranking ties stay stable.
func (s *Store) Nearby(ctx context.Context, center facility.Point, radiusKM float64) ([]facility.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.Nearby", "SELECT")
	defer span.End()

	minLat, maxLat, minLon, maxLon := facility.BoundingBox(center, radiusKM)
	rows, err := s.pool.Query(ctx,
		`SELECT `+facilityColumns+` FROM facilities
		 WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4
		 ORDER BY id`,
		minLat, maxLat, minLon, maxLon,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query facilities: %w", err))
	}
	defer rows.Close()

	var out []facility.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate facilities: %w", err))
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

// Get returns the facility identified by name and address.
func (s *Store) Get(ctx context.Context, name, address string) (facility.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE name = $1 AND address = $2`,
		name, address,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return facility.Record{}, false, nil
	}
	if err != nil {
		return facility.Record{}, false, fail(span, err)
	}
	return r, true, nil
}

// Upsert inserts or updates records keyed by (name, address) in one
// transaction. Invalid records are rejected before anything is written.
func (s *Store) Upsert(ctx context.Context, records []facility.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Upsert", "UPSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("facility.records", len(records)))

	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fail(span, fmt.Errorf("facility %q: %w", records[i].Name, err))
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	for _, r := range records {
		services := r.Services
		if services == nil {
			services = []string{}
		}
		batch.Queue(`INSERT INTO facilities (`+facilityColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (name, address) DO UPDATE SET
				latitude      = EXCLUDED.latitude,
				longitude     = EXCLUDED.longitude,
				specialty     = EXCLUDED.specialty,
				services      = EXCLUDED.services,
				contact       = EXCLUDED.contact,
				facility_type = EXCLUDED.facility_type,
				updated_at    = now()`,
			r.Name, r.Address, r.Lat, r.Lon, r.Specialty, services, r.Contact, string(r.Type),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fail(span, fmt.Errorf("upsert facilities: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Count returns the number of stored facilities.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.Count", "SELECT")
	defer span.End()

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM facilities`).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("count facilities: %w", err))
	}
	return n, nil
}

// Seed loads records into an empty table. It is a no-op once any
// facility exists.
func (s *Store) Seed(ctx context.Context, records []facility.Record) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	return true, s.Upsert(ctx, records)
}

func scanRecord(row pgx.Row) (facility.Record, error) {
	var (
		r   facility.Record
		typ string
	)
	if err := row.Scan(&r.Name, &r.Address, &r.Lat, &r.Lon, &r.Specialty, &r.Services, &r.Contact, &typ); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan facility: %w", err)
	}
	r.Type = triage.FacilityType(typ)
	if len(r.Services) == 0 {
		r.Services = nil
	}
	return r, nil
}

var _ facility.Directory = (*Store)(nil)
