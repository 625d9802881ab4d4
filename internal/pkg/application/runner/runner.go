// Package runner drives the synchronisation service: it replays previously
// stored readings at startup and then periodically fetches new readings
// from the vendor APIs and pushes them to the context broker.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"

	"github.com/cityiot/streetlight-sync/internal/pkg/application/reconcile"
	"github.com/cityiot/streetlight-sync/internal/pkg/application/sync"
	"github.com/cityiot/streetlight-sync/internal/pkg/infrastructure/geocode"
	"github.com/cityiot/streetlight-sync/internal/pkg/infrastructure/vendorapi"
	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/client"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/subscriptions"
)

// MaxFetchDays caps how far back a fetch reaches. The vendor APIs hold a
// rolling window, so asking for more is pointless.
const MaxFetchDays = 7

type Config struct {
	UpdateHour   int
	UpdateMinute int
	RetryWait    time.Duration
	MaxFails     int
	RoundDelay   time.Duration

	CoordinateFile string
	DataFile       string

	CreateSubscriptions bool
	NotificationTarget  string
	PlatformKey         string
}

type Runner struct {
	cfg      Config
	cb       client.ContextBrokerClient
	vendor   *vendorapi.Client
	sources  vendorapi.Credentials
	geocoder *geocode.Geocoder

	now func() time.Time
}

func New(cfg Config, cb client.ContextBrokerClient, vendor *vendorapi.Client, sources vendorapi.Credentials, geocoder *geocode.Geocoder) *Runner {
	return &Runner{
		cfg:      cfg,
		cb:       cb,
		vendor:   vendor,
		sources:  sources,
		geocoder: geocoder,
		now:      time.Now,
	}
}

// Run replays stored readings, then fetches new readings until the context
// is cancelled. After a successful fetch, or when there is nothing new to
// fetch, the runner sleeps until the configured time of day. Failed fetches
// are retried with a growing delay, up to the configured number of fails.
func (r *Runner) Run(ctx context.Context) error {
	logger := logging.GetFromContext(ctx)

	if err := r.SetupSubscriptions(ctx); err != nil {
		logger.Error("failed to set up subscriptions", "err", err.Error())
	}

	latest, haveLatest := r.SendSavedData(ctx)

	lastRoundSuccess := false
	fails := 0

	for {
		days := MaxFetchDays
		if haveLatest {
			days = daysSince(latest, r.now())
		}

		if days <= 0 || lastRoundSuccess || fails >= r.cfg.MaxFails {
			if err := sleepUntil(ctx, r.cfg.UpdateHour, r.cfg.UpdateMinute, r.now); err != nil {
				return err
			}
			lastRoundSuccess = false
			fails = 0
			continue
		}

		runCtx := logging.NewContextWithLogger(ctx, logger, "run_id", uuid.NewString())
		newLatest, haveNew := r.FetchAndSend(runCtx, days)

		lastRoundSuccess = haveNew && (!haveLatest || newLatest > latest)
		if lastRoundSuccess {
			latest = newLatest
			haveLatest = true
			fails = 0
		} else {
			fails++
		}

		wait := r.cfg.RetryWait * time.Duration(fails+1)
		logger.Info("waiting before the next fetch", "wait", wait.String(), "fails", fails)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// SetupSubscriptions creates the notification subscriptions for every
// entity type, unless subscriptions are disabled or some already exist.
func (r *Runner) SetupSubscriptions(ctx context.Context) error {
	if !r.cfg.CreateSubscriptions || r.cfg.NotificationTarget == "" {
		return nil
	}

	existing, err := r.cb.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	target := subscriptions.Target{
		URL:         r.cfg.NotificationTarget,
		PlatformKey: r.cfg.PlatformKey,
	}

	for _, entityType := range streetlight.EntityTypes() {
		schema, ok := streetlight.Schema(entityType)
		if !ok {
			continue
		}

		for _, sub := range subscriptions.ForSchema(entityType, schema.Static, schema.DynamicGroups(), target) {
			if err := r.cb.CreateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to create subscription for %s: %w", entityType, err)
			}
		}
	}

	logging.GetFromContext(ctx).Info("created notification subscriptions")
	return nil
}

// manifest names the previously stored reading files to replay at startup.
type manifest struct {
	IlluminationFiles []string `json:"illumination_files"`
	ElectricityFiles  []string `json:"electricity_files"`
	DoorSensorFiles   []string `json:"doorsensor_files"`
}

// SendSavedData replays the reading files named in the data file manifest
// and returns the latest update timestamp that was seen.
func (r *Runner) SendSavedData(ctx context.Context) (int64, bool) {
	logger := logging.GetFromContext(ctx)

	m := manifest{}
	if data, err := os.ReadFile(r.cfg.DataFile); err != nil {
		logger.Info("no stored data manifest to replay", "file", r.cfg.DataFile)
	} else if err := json.Unmarshal(data, &m); err != nil {
		logger.Error("failed to parse stored data manifest", "file", r.cfg.DataFile, "err", err.Error())
	}

	return r.process(ctx,
		vendorapi.ReadSavedFiles[reconcile.IlluminanceReading](ctx, m.IlluminationFiles),
		vendorapi.ReadSavedFiles[reconcile.ElectricityReading](ctx, m.ElectricityFiles),
		vendorapi.ReadSavedFiles[reconcile.DoorSensorReading](ctx, m.DoorSensorFiles),
	)
}

// FetchAndSend fetches the given number of days of readings from the
// vendor APIs and pushes them to the broker. It returns the latest update
// timestamp that was seen.
func (r *Runner) FetchAndSend(ctx context.Context, days int) (int64, bool) {
	if days > MaxFetchDays {
		days = MaxFetchDays
	}
	if days < 0 {
		days = 0
	}

	end := r.now()
	begin := end.AddDate(0, 0, -days)

	beginDate := dayString(begin)
	endDate := dayString(end)

	logging.GetFromContext(ctx).Info("fetching readings", "begin", beginDate, "end", endDate)

	return r.process(ctx,
		vendorapi.Fetch[reconcile.IlluminanceReading](ctx, r.vendor, "illuminance", r.sources.IlluminanceAPIs, beginDate, endDate),
		vendorapi.Fetch[reconcile.ElectricityReading](ctx, r.vendor, "electricity", r.sources.ElectricityAPIs, beginDate, endDate),
		vendorapi.Fetch[reconcile.DoorSensorReading](ctx, r.vendor, "doorsensor", r.sources.DoorSensorAPIs, beginDate, endDate),
	)
}

func (r *Runner) process(ctx context.Context, illuminance []reconcile.IlluminanceReading, electricity []reconcile.ElectricityReading, doorsensors []reconcile.DoorSensorReading) (int64, bool) {
	logger := logging.GetFromContext(ctx)

	state := reconcile.NewState()
	state = reconcile.LoadIlluminance(ctx, illuminance, state)
	state = reconcile.LoadElectricity(ctx, electricity, state)
	state = reconcile.LoadDoorSensors(ctx, doorsensors, state)

	updates := state.Updates.Clean()
	reconcile.EnrichLocations(ctx, state.Entities, r.geocoder)

	if err := r.geocoder.SaveCache(r.cfg.CoordinateFile); err != nil {
		logger.Error("failed to store coordinate cache", "err", err.Error())
	}

	latest, found := updates.LatestTimestamp()
	if !found {
		logger.Info("no new updates in the fetched readings")
		return 0, false
	}

	logger.Info("reconciled readings", "entities", len(state.Entities), "updates", updates.Size())

	create, update := sync.Plan(ctx, r.cb, state.Entities)
	fresh := sync.RemoveStale(ctx, r.cb, updates)
	rounds := sync.Rounds(fresh)

	if err := sync.Dispatch(ctx, r.cb, create, update, rounds, r.cfg.RoundDelay); err != nil {
		logger.Error("failed to dispatch updates", "err", err.Error())
		return 0, false
	}

	return latest, true
}

// dayString formats a date the way the vendor APIs expect, without zero
// padding of month and day.
func dayString(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

// daysSince returns the number of whole calendar days between the day of
// the given timestamp and today.
func daysSince(timestampMillis int64, now time.Time) int {
	start := time.UnixMilli(timestampMillis)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(today.Sub(startDay) / (24 * time.Hour))
}

// sleepUntil blocks until the next occurrence of the given time of day.
func sleepUntil(ctx context.Context, hour, minute int, now func() time.Time) error {
	current := now()
	target := time.Date(current.Year(), current.Month(), current.Day(), hour, minute, 0, 0, current.Location())
	if !target.After(current) {
		target = target.AddDate(0, 0, 1)
	}

	logging.GetFromContext(ctx).Info("going to sleep", "until", target.Format(time.RFC3339))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(target.Sub(current)):
		return nil
	}
}
