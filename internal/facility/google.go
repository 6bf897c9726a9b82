package facility

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

// GoogleGeocoder resolves locations with the Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
	region string
}

// NewGoogle creates a geocoder. region biases results toward a ccTLD
// (e.g. "in"); extra options are passed to the maps client.
func NewGoogle(apiKey, region string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	c, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &GoogleGeocoder{client: c, region: region}, nil
}

// Geocode implements Geocoder.
func (g *GoogleGeocoder) Geocode(ctx context.Context, query string) (Point, bool, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: query,
		Region:  g.region,
	})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return Point{}, false, nil
		}
		return Point{}, false, fmt.Errorf("google geocode: %w", err)
	}
	if len(results) == 0 {
		return Point{}, false, nil
	}
	loc := results[0].Geometry.Location
	p := Point{Lat: loc.Lat, Lon: loc.Lng}
	if !p.Valid() {
		return Point{}, false, fmt.Errorf("google returned invalid coordinates %s", p)
	}
	return p, true, nil
}

var _ Geocoder = (*GoogleGeocoder)(nil)
