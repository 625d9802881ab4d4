// Package vendorapi fetches raw streetlight readings from the city's vendor
// APIs: date ranged GET queries against a set of configured endpoint paths,
// authenticated with a static API key header.
package vendorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Credentials holds the vendor API access configuration plus the broker
// side secrets that live in the same file.
type Credentials struct {
	HeaderAttr      string   `json:"header_attr"`
	APIKey          string   `json:"api_key"`
	Host            string   `json:"host"`
	IlluminanceAPIs []string `json:"illuminance_apis"`
	ElectricityAPIs []string `json:"electricity_apis"`
	DoorSensorAPIs  []string `json:"doorsensor_apis"`

	APIKeyHeader             string  `json:"apikey_header"`
	BrokerAPIKey             *string `json:"fiware_apikey"`
	PlatformKey              string  `json:"fiware_platform_key"`
	NotificationTarget       string  `json:"fiware_notification_target"`
	AuthSecret               string  `json:"auth_secret"`
	AccessToken              string  `json:"access_token"`
	RefreshToken             string  `json:"refresh_token"`
}

// LoadCredentials reads and validates a credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	credentials := &Credentials{}
	if err := json.Unmarshal(data, credentials); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if credentials.APIKeyHeader == "" {
		credentials.APIKeyHeader = "apikey"
	}

	if credentials.Host == "" {
		return nil, fmt.Errorf("credentials file %s does not name a vendor API host", path)
	}

	return credentials, nil
}

// Client queries the vendor APIs. An empty storeDir disables persistence of
// the fetched raw data.
type Client struct {
	host       string
	headerAttr string
	apiKey     string
	storeDir   string
	httpClient http.Client
}

func New(credentials *Credentials, options ...func(*Client)) *Client {
	c := &Client{
		host:       credentials.Host,
		headerAttr: credentials.HeaderAttr,
		apiKey:     credentials.APIKey,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   60 * time.Second,
		},
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// StoreRawData persists each fetched batch to dir as <name>_<end date>.json.
func StoreRawData(dir string) func(*Client) {
	return func(c *Client) {
		c.storeDir = dir
	}
}

// Fetch queries every path template for the given date range and returns
// the concatenated readings. The {begin} and {end} placeholders in a path
// are replaced with the range dates. Endpoints that fail or return garbage
// are logged and skipped, so one broken endpoint does not discard the
// readings of the others.
func Fetch[T any](ctx context.Context, c *Client, name string, paths []string, begin, end string) []T {
	log := logging.GetFromContext(ctx)
	readings := []T{}

	for _, path := range paths {
		expanded := strings.ReplaceAll(path, "{begin}", begin)
		expanded = strings.ReplaceAll(expanded, "{end}", end)

		batch, err := fetchOne[T](ctx, c, c.host+expanded)
		if err != nil {
			log.Error("failed to fetch readings", "source", name, "path", expanded, "err", err.Error())
			continue
		}

		readings = append(readings, batch...)
	}

	if c.storeDir != "" && len(readings) > 0 {
		if err := storeReadings(c.storeDir, name, end, readings); err != nil {
			log.Error("failed to store raw readings", "source", name, "err", err.Error())
		}
	}

	return readings
}

func fetchOne[T any](ctx context.Context, c *Client, url string) ([]T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(c.headerAttr, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	batch := []T{}
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return batch, nil
}

func storeReadings[T any](dir, name, end string, readings []T) error {
	data, err := json.MarshalIndent(readings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s_%s.json", name, end)), data, 0o644)
}

// ReadSavedFiles loads previously stored reading files and returns their
// concatenated contents. Files that cannot be read or parsed are logged
// and skipped.
func ReadSavedFiles[T any](ctx context.Context, paths []string) []T {
	log := logging.GetFromContext(ctx)
	readings := []T{}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("failed to read saved data file", "file", path, "err", err.Error())
			continue
		}

		batch := []T{}
		if err := json.Unmarshal(data, &batch); err != nil {
			log.Error("failed to parse saved data file", "file", path, "err", err.Error())
			continue
		}

		readings = append(readings, batch...)
	}

	return readings
}
