package facility

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/arovia/internal/triage"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Record is one facility as stored in a directory. Type and Services are
// optional; the matcher infers them when empty.
type Record struct {
	Name      string              `yaml:"name" json:"name"`
	Address   string              `yaml:"address" json:"address"`
	Lat       float64             `yaml:"lat" json:"lat"`
	Lon       float64             `yaml:"lon" json:"lon"`
	Specialty string              `yaml:"specialty" json:"specialty"`
	Services  []string            `yaml:"services,omitempty" json:"services,omitempty"`
	Contact   string              `yaml:"contact,omitempty" json:"contact,omitempty"`
	Type      triage.FacilityType `yaml:"type,omitempty" json:"type,omitempty"`
}

// Point returns the record's coordinate.
func (r *Record) Point() Point { return Point{Lat: r.Lat, Lon: r.Lon} }

// Validate checks a record loaded from an external source.
func (r *Record) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !r.Point().Valid() {
		errs = append(errs, fmt.Errorf("coordinates %s out of range", r.Point()))
	}
	if r.Type != "" && !r.Type.Valid() {
		errs = append(errs, fmt.Errorf("invalid type %q", r.Type))
	}
	return errors.Join(errs...)
}

// Directory supplies candidate facilities near a point. Results come back
// in a stable order; the matcher's ranking depends on it.
type Directory interface {
	Nearby(ctx context.Context, center Point, radiusKM float64) ([]Record, error)
}

// Catalog is an in-memory Directory.
type Catalog struct {
	records []Record
}

type catalogFile struct {
	Facilities []Record `yaml:"facilities"`
}

// LoadCatalog reads a YAML catalog from path, or the built-in catalog when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := builtinCatalog
	if path != "" {
		b, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i := range f.Facilities {
		if err := f.Facilities[i].Validate(); err != nil {
			return nil, fmt.Errorf("facility %d (%q): %w", i, f.Facilities[i].Name, err)
		}
	}
	return NewCatalog(f.Facilities), nil
}

// NewCatalog builds a catalog from records, which are copied.
func NewCatalog(records []Record) *Catalog {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Services = slices.Clone(r.Services)
		out[i] = r
	}
	return &Catalog{records: out}
}

// Records returns a copy of every record in catalog order.
func (c *Catalog) Records() []Record {
	return NewCatalog(c.records).records
}

// Len is the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// Nearby implements Directory.
func (c *Catalog) Nearby(ctx context.Context, center Point, radiusKM float64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	minLat, maxLat, minLon, maxLon := BoundingBox(center, radiusKM)
	var out []Record
	for _, r := range c.records {
		if r.Lat < minLat || r.Lat > maxLat || r.Lon < minLon || r.Lon > maxLon {
			continue
		}
		r.Services = slices.Clone(r.Services)
		out = append(out, r)
	}
	return out, nil
}

var _ Directory = (*Catalog)(nil)
