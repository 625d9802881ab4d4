package vendorapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/cityiot/streetlight-sync/internal/pkg/application/reconcile"
)

func TestFetchExpandsDatesAndConcatenatesBatches(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Header.Get("x-api-key"), "secret")

		switch r.URL.Path {
		case "/illuminance/first":
			is.Equal(r.URL.Query().Get("begin"), "2019-6-1")
			is.Equal(r.URL.Query().Get("end"), "2019-6-8")
			w.Write([]byte(`[{"Ohjauskeskus":"Cab 1","Aika":"2019-06-01T12:00:00","valoisuusarvo":120}]`))
		case "/illuminance/second":
			w.Write([]byte(`[{"Ohjauskeskus":"Cab 2","Aika":"2019-06-02T12:00:00","valoisuusarvo":"80"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := New(&Credentials{
		HeaderAttr: "x-api-key",
		APIKey:     "secret",
		Host:       server.URL,
	})

	readings := Fetch[reconcile.IlluminanceReading](context.Background(), c, "illuminance", []string{
		"/illuminance/first?begin={begin}&end={end}",
		"/illuminance/second?begin={begin}&end={end}",
	}, "2019-6-1", "2019-6-8")

	is.Equal(len(readings), 2)
	is.Equal(*readings[0].Cabinet.Ptr(), "Cab 1")
	is.Equal(*readings[0].Illuminance.Ptr(), "120")
	is.Equal(*readings[1].Cabinet.Ptr(), "Cab 2")
}

func TestFetchSkipsFailingEndpoints(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"name":"KV 2","attribute":"BinaryInputCluster.binaryPresentValue=1","time":"2019-06-01T09:00:00"}]`))
	}))
	defer server.Close()

	c := New(&Credentials{HeaderAttr: "x-api-key", APIKey: "secret", Host: server.URL})

	readings := Fetch[reconcile.DoorSensorReading](context.Background(), c, "doorsensor",
		[]string{"/broken", "/working"}, "2019-6-1", "2019-6-8")

	is.Equal(len(readings), 1)
}

func TestFetchStoresRawData(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"Ohjauskeskus":"Cab 1","Aika":"2019-06-01T12:00:00","valoisuusarvo":120}]`))
	}))
	defer server.Close()

	dir := t.TempDir()
	c := New(&Credentials{HeaderAttr: "x-api-key", APIKey: "secret", Host: server.URL}, StoreRawData(dir))

	fetched := Fetch[reconcile.IlluminanceReading](context.Background(), c, "illuminance",
		[]string{"/data"}, "2019-6-1", "2019-6-8")
	is.Equal(len(fetched), 1)

	stored := ReadSavedFiles[reconcile.IlluminanceReading](context.Background(),
		[]string{filepath.Join(dir, "illuminance_2019-6-8.json")})

	is.Equal(len(stored), 1)
	is.Equal(*stored[0].Cabinet.Ptr(), "Cab 1")
}

func TestReadSavedFilesSkipsMissingFiles(t *testing.T) {
	is := is.New(t)

	readings := ReadSavedFiles[reconcile.DoorSensorReading](context.Background(),
		[]string{filepath.Join(t.TempDir(), "nope.json")})
	is.Equal(len(readings), 0)
}

func TestLoadCredentials(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "credentials.json")
	is.NoErr(os.WriteFile(path, []byte(`{
		"header_attr": "x-api-key",
		"api_key": "secret",
		"host": "https://vendor.example.com",
		"illuminance_apis": ["/illuminance?begin={begin}&end={end}"],
		"fiware_apikey": "broker-key"
	}`), 0o644))

	credentials, err := LoadCredentials(path)
	is.NoErr(err)
	is.Equal(credentials.Host, "https://vendor.example.com")
	is.Equal(len(credentials.IlluminanceAPIs), 1)
	is.Equal(*credentials.BrokerAPIKey, "broker-key")
	// the broker key header falls back to its default name
	is.Equal(credentials.APIKeyHeader, "apikey")
}

func TestLoadCredentialsRequiresAHost(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "credentials.json")
	is.NoErr(os.WriteFile(path, []byte(`{"api_key": "secret"}`), 0o644))

	_, err := LoadCredentials(path)
	is.True(err != nil)
}
