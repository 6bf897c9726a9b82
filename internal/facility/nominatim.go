package facility

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultNominatimURL is the public OpenStreetMap geocoder.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

const nominatimUserAgent = "arovia-health-desk"

// NominatimGeocoder resolves locations with an OpenStreetMap Nominatim server.
type NominatimGeocoder struct {
	endpoint     string
	countryCodes string
	httpClient   *http.Client
}

// NewNominatim creates a geocoder for endpoint. countryCodes is an optional
// comma-separated ISO 3166-1 list that restricts results (e.g. "in").
func NewNominatim(endpoint, countryCodes string) *NominatimGeocoder {
	if endpoint == "" {
		endpoint = DefaultNominatimURL
	}
	return &NominatimGeocoder{
		endpoint:     strings.TrimRight(endpoint, "/"),
		countryCodes: countryCodes,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Geocode implements Geocoder.
func (n *NominatimGeocoder) Geocode(ctx context.Context, query string) (Point, bool, error) {
	u, err := url.Parse(n.endpoint + "/search")
	if err != nil {
		return Point{}, false, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if n.countryCodes != "" {
		q.Set("countrycodes", n.countryCodes)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return Point{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", nominatimUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // endpoint comes from config; the query is url-encoded
	if err != nil {
		return Point{}, false, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Point{}, false, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Point{}, false, fmt.Errorf("nominatim returned %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return Point{}, false, fmt.Errorf("nominatim returned invalid json")
	}

	first := gjson.GetBytes(body, "0")
	if !first.Exists() {
		return Point{}, false, nil
	}
	lat, lon := first.Get("lat"), first.Get("lon")
	if !lat.Exists() || !lon.Exists() {
		return Point{}, false, fmt.Errorf("nominatim result without coordinates")
	}
	p := Point{Lat: lat.Float(), Lon: lon.Float()}
	if !p.Valid() {
		return Point{}, false, fmt.Errorf("nominatim returned invalid coordinates %s", p)
	}
	return p, true, nil
}

var _ Geocoder = (*NominatimGeocoder)(nil)
