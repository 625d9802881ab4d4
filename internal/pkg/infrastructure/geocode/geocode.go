// Package geocode resolves street addresses to coordinates using the
// Nominatim search API, with a persistent cache so that repeated runs do
// not ask for the same addresses again.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

const DefaultSearchURL = "https://nominatim.openstreetmap.org/search"

// DefaultPause is the minimum delay before each remote lookup, per the
// Nominatim usage policy.
const DefaultPause = 1 * time.Second

// the resolved coordinates are rounded to six decimals
const coordinateDecimals = 6

type cacheKey struct {
	Street  string
	City    string
	Country string
}

// Geocoder resolves addresses with a lookup order of manual overrides
// first, then the cache, then the search API. It is safe for concurrent
// use.
type Geocoder struct {
	searchURL  string
	pause      time.Duration
	httpClient http.Client

	mu    sync.Mutex
	cache map[cacheKey]types.Point
	grown bool
}

func New(options ...func(*Geocoder)) *Geocoder {
	g := &Geocoder{
		searchURL: DefaultSearchURL,
		pause:     DefaultPause,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		cache: map[cacheKey]types.Point{},
	}

	for _, option := range options {
		option(g)
	}

	return g
}

func WithSearchURL(searchURL string) func(*Geocoder) {
	return func(g *Geocoder) {
		g.searchURL = searchURL
	}
}

func WithPause(pause time.Duration) func(*Geocoder) {
	return func(g *Geocoder) {
		g.pause = pause
	}
}

// A few addresses in the data set are either empty or unknown to the
// search API, so their coordinates are pinned manually. The empty address
// maps to the Tampere city centre.
var overrides = map[cacheKey]types.Point{
	{Street: "", City: "Tampere", Country: "FI"}: {
		Latitude: 61.498302, Longitude: 23.726467,
	},
	{Street: "Viklanpolku 5", City: "Tampere", Country: "FI"}: {
		Latitude: 61.492742, Longitude: 23.805784,
	},
}

// Resolve returns the coordinates for the given address, or false when the
// address cannot be resolved. Lookup failures are logged and swallowed so
// that one bad address never stops an ingestion run.
func (g *Geocoder) Resolve(ctx context.Context, street, city, country string) (types.Point, bool) {
	key := cacheKey{Street: street, City: city, Country: normaliseCountry(country)}

	if point, ok := overrides[key]; ok {
		return point, true
	}

	g.mu.Lock()
	point, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		return point, true
	}

	point, err := g.lookup(ctx, street, city, country)
	if err != nil {
		logging.GetFromContext(ctx).Warn("failed to geocode address",
			"street", street, "city", city, "err", err.Error())
		return types.Point{}, false
	}

	g.mu.Lock()
	g.cache[key] = point
	g.grown = true
	g.mu.Unlock()

	return point, true
}

func (g *Geocoder) lookup(ctx context.Context, street, city, country string) (types.Point, error) {
	time.Sleep(g.pause)

	query := url.Values{}
	query.Set("format", "json")
	query.Set("street", street)
	query.Set("city", city)
	query.Set("country", country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.searchURL+"?"+query.Encode(), nil)
	if err != nil {
		return types.Point{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return types.Point{}, fmt.Errorf("failed to query %s: %w", g.searchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Point{}, fmt.Errorf("search request failed with status %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return types.Point{}, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(results) == 0 {
		return types.Point{}, fmt.Errorf("no results for address %q in %s", street, city)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return types.Point{}, fmt.Errorf("failed to parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return types.Point{}, fmt.Errorf("failed to parse longitude: %w", err)
	}

	return types.Point{Latitude: round(lat), Longitude: round(lon)}, nil
}

func round(f float64) float64 {
	scale := math.Pow10(coordinateDecimals)
	return math.Round(f*scale) / scale
}

func normaliseCountry(country string) string {
	if country == "Finland" {
		return "FI"
	}
	return country
}

// cacheEntry is the on-disk form of one resolved address.
type cacheEntry struct {
	Address     string     `json:"address"`
	City        string     `json:"city"`
	Country     string     `json:"country"`
	Coordinates [2]float64 `json:"coordinates"`
}

// LoadCache reads previously resolved addresses from path. A missing file
// is not an error.
func (g *Geocoder) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read coordinate cache: %w", err)
	}

	entries := []cacheEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse coordinate cache: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, entry := range entries {
		key := cacheKey{Street: entry.Address, City: entry.City, Country: normaliseCountry(entry.Country)}
		g.cache[key] = types.Point{Latitude: entry.Coordinates[0], Longitude: entry.Coordinates[1]}
	}

	return nil
}

// SaveCache writes the resolved addresses to path when new ones have been
// added since the cache was loaded.
func (g *Geocoder) SaveCache(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.grown {
		return nil
	}

	entries := make([]cacheEntry, 0, len(g.cache))
	for key, point := range g.cache {
		entries = append(entries, cacheEntry{
			Address:     key.Street,
			City:        key.City,
			Country:     key.Country,
			Coordinates: [2]float64{point.Latitude, point.Longitude},
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode coordinate cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write coordinate cache: %w", err)
	}

	g.grown = false
	return nil
}
