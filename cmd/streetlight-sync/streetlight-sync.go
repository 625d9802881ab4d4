package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/internal/pkg/application/runner"
	"github.com/cityiot/streetlight-sync/internal/pkg/infrastructure/geocode"
	"github.com/cityiot/streetlight-sync/internal/pkg/infrastructure/router"
	"github.com/cityiot/streetlight-sync/internal/pkg/infrastructure/vendorapi"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/client"
)

const appName string = "streetlight-sync"

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfiguration(ctx)
	if err != nil {
		log.Error("invalid configuration", "err", err.Error())
		os.Exit(1)
	}

	credentials, err := vendorapi.LoadCredentials(cfg.Files.Credentials)
	if err != nil {
		log.Error("failed to load api credentials", "err", err.Error())
		os.Exit(1)
	}

	cb := client.NewContextBrokerClient(cfg.Broker.Endpoint,
		client.Service(cfg.Broker.Service, cfg.Broker.ServicePath),
		client.Tokens(tokenProvider(credentials, cfg.Broker.TokenEndpoint)),
		client.Debug(env.GetVariableOrDefault(ctx, "CLIENT_DEBUG", "false")),
	)

	geocoder := geocode.New()
	if err := geocoder.LoadCache(cfg.Files.Coordinates); err != nil {
		log.Error("failed to load coordinate cache", "err", err.Error())
	}

	vendorOptions := []func(*vendorapi.Client){}
	if cfg.Files.StoreDataDir != "" {
		vendorOptions = append(vendorOptions, vendorapi.StoreRawData(cfg.Files.StoreDataDir))
	}
	vendor := vendorapi.New(credentials, vendorOptions...)

	hour, minute, _ := cfg.UpdateTimeParts()

	r := runner.New(runner.Config{
		UpdateHour:          hour,
		UpdateMinute:        minute,
		RetryWait:           time.Duration(cfg.Sync.RetryWaitSeconds) * time.Second,
		MaxFails:            cfg.Sync.MaxFails,
		RoundDelay:          time.Duration(cfg.Sync.RoundDelaySeconds) * time.Second,
		CoordinateFile:      cfg.Files.Coordinates,
		DataFile:            cfg.Files.DataManifest,
		CreateSubscriptions: cfg.Sync.CreateSubscriptions,
		NotificationTarget:  notificationTarget(cfg, credentials),
		PlatformKey:         credentials.PlatformKey,
	}, cb, vendor, *credentials, geocoder)

	go serveHealthEndpoint(ctx)

	log.Info("starting up", "version", appVersion)

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("runner stopped", "err", err.Error())
		os.Exit(1)
	}
}

// notificationTarget returns the URL subscriptions notify, preferring the
// credentials file value over the configured time series database endpoint.
func notificationTarget(cfg *Config, credentials *vendorapi.Credentials) string {
	if credentials.NotificationTarget != "" {
		return credentials.NotificationTarget
	}

	return strings.TrimSuffix(cfg.Broker.TimeSeriesEndpoint, "/") + "/notify"
}

// tokenProvider picks the broker authentication scheme: a static API key
// when one is configured, otherwise an OAuth token pair refreshed via the
// identity manager.
func tokenProvider(credentials *vendorapi.Credentials, tokenEndpoint string) client.TokenProvider {
	if credentials.BrokerAPIKey != nil {
		return client.StaticAPIKey{
			Header: credentials.APIKeyHeader,
			Key:    *credentials.BrokerAPIKey,
		}
	}

	return client.NewOAuthTokens(
		tokenEndpoint+"/oauth2/token",
		credentials.APIKeyHeader,
		credentials.AuthSecret,
		credentials.AccessToken,
		credentials.RefreshToken,
	)
}

func serveHealthEndpoint(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	mux := router.New(appName)
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	port := env.GetVariableOrDefault(ctx, "SERVICE_PORT", "8080")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error("health endpoint stopped", "err", err.Error())
	}
}
