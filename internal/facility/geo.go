package facility

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const earthRadiusKM = 6371.0

// maxLocationLen bounds free-text locations accepted from callers.
const maxLocationLen = 256

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

// Valid reports whether p lies within coordinate bounds.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Geocoder resolves free text to a coordinate. ok is false when the
// location is well-formed but unknown.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (p Point, ok bool, err error)
}

// GeocoderFunc adapts a function to Geocoder.
type GeocoderFunc func(ctx context.Context, query string) (Point, bool, error)

// Geocode implements Geocoder.
func (f GeocoderFunc) Geocode(ctx context.Context, query string) (Point, bool, error) {
	return f(ctx, query)
}

// DistanceKM is the great-circle distance between a and b.
func DistanceKM(a, b Point) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func roundKM(d float64) float64 {
	return math.Round(d*100) / 100
}

// BoundingBox returns the lat/lon box enclosing a circle of radiusKM around
// center. It is a prefilter; callers still check the exact distance.
func BoundingBox(center Point, radiusKM float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKM / earthRadiusKM * 180 / math.Pi
	minLat, maxLat = math.Max(-90, center.Lat-dLat), math.Min(90, center.Lat+dLat)

	cos := math.Cos(center.Lat * math.Pi / 180)
	if cos < 1e-6 || minLat == -90 || maxLat == 90 {
		return minLat, maxLat, -180, 180
	}
	dLon := dLat / cos
	return minLat, maxLat, math.Max(-180, center.Lon-dLon), math.Min(180, center.Lon+dLon)
}

// MapLink returns a Google Maps link for p.
func MapLink(p Point) string {
	return "https://www.google.com/maps?q=" + p.String()
}

var errBadCoordinates = errors.New("coordinates out of range")

// checkLocation rejects input that cannot be a location.
func checkLocation(loc string) error {
	if len(loc) > maxLocationLen {
		return fmt.Errorf("location longer than %d bytes", maxLocationLen)
	}
	if strings.IndexFunc(loc, unicode.IsControl) >= 0 {
		return errors.New("location contains control characters")
	}
	return nil
}

// parseCoordinates recognises a "lat,lon" literal. isLiteral is false
// for anything that is not two comma-separated numbers.
func parseCoordinates(loc string) (p Point, isLiteral bool, err error) {
	latS, lonS, ok := strings.Cut(loc, ",")
	if !ok {
		return Point{}, false, nil
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err1 != nil || err2 != nil {
		return Point{}, false, nil
	}
	p = Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Point{}, true, errBadCoordinates
	}
	return p, true, nil
}

// normalizeQuery folds case and whitespace so equivalent queries share a
// cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
