package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/cityiot/streetlight-sync/internal/pkg/infrastructure/vendorapi"
)

func TestDefaultConfiguration(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(context.Background())
	is.NoErr(err)

	is.Equal(cfg.Broker.TimeSeriesEndpoint, "http://quantumleap:8668/v2")
	is.Equal(cfg.Sync.UpdateTime, "08:15")
	is.Equal(cfg.Sync.RetryWaitSeconds, 300)
	is.Equal(cfg.Sync.MaxFails, 5)
	is.True(cfg.Sync.CreateSubscriptions)

	hour, minute, err := cfg.UpdateTimeParts()
	is.NoErr(err)
	is.Equal(hour, 8)
	is.Equal(minute, 15)
}

func TestConfigurationFileAndEnvironmentOverrides(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	is.NoErr(os.WriteFile(path, []byte(`
broker:
  endpoint: http://orion:1026
  service: cityiot
sync:
  updateTime: "06:30"
  maxFails: 3
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RETRY_WAIT_S", "60")
	t.Setenv("QUANTUMLEAP_ENDPOINT", "http://timeseries:8668/v2")

	cfg, err := LoadConfiguration(context.Background())
	is.NoErr(err)

	is.Equal(cfg.Broker.Endpoint, "http://orion:1026")
	is.Equal(cfg.Broker.Service, "cityiot")
	is.Equal(cfg.Broker.TimeSeriesEndpoint, "http://timeseries:8668/v2")
	is.Equal(cfg.Sync.UpdateTime, "06:30")
	is.Equal(cfg.Sync.MaxFails, 3)
	is.Equal(cfg.Sync.RetryWaitSeconds, 60)
}

func TestNotificationTargetDefaultsToTheTimeSeriesEndpoint(t *testing.T) {
	is := is.New(t)

	cfg := defaultConfiguration()

	target := notificationTarget(cfg, &vendorapi.Credentials{})
	is.Equal(target, "http://quantumleap:8668/v2/notify")

	target = notificationTarget(cfg, &vendorapi.Credentials{NotificationTarget: "http://collector:9000/notify"})
	is.Equal(target, "http://collector:9000/notify")
}

func TestMalformedUpdateTimeIsRejected(t *testing.T) {
	is := is.New(t)

	t.Setenv("UPDATE_TIME", "quarter past eight")

	_, err := LoadConfiguration(context.Background())
	is.True(err != nil)
}

func TestMalformedNumbersAreRejected(t *testing.T) {
	is := is.New(t)

	t.Setenv("MAX_FAILS", "many")

	_, err := LoadConfiguration(context.Background())
	is.True(err != nil)
}
