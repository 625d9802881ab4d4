package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
	"github.com/cityiot/streetlight-sync/pkg/temporal"
	"github.com/cityiot/streetlight-sync/pkg/tools"
)

// LoadIlluminance folds a batch of illuminance readings into a copy of the
// given state. Each reading touches the cabinet's illuminance thresholds
// and the measurement entity of the cabinet's illuminance sensor. Readings
// that cannot be parsed are logged and skipped.
func LoadIlluminance(ctx context.Context, readings []IlluminanceReading, state *State) *State {
	log := logging.GetFromContext(ctx)
	s := state.Clone()

	type timed struct {
		reading   IlluminanceReading
		timestamp int64
	}

	ordered := make([]timed, 0, len(readings))
	for _, r := range readings {
		timeValue := tools.Str(r.Time.Ptr())
		if timeValue == nil {
			log.Warn("skipping illuminance reading without a time value")
			continue
		}

		ts, err := temporal.ToEpochMillis(*timeValue, temporal.DefaultLayout, temporal.VendorFractionalDigits, true)
		if err != nil {
			log.Warn("skipping illuminance reading", "err", err.Error())
			continue
		}

		ordered = append(ordered, timed{reading: r, timestamp: ts})
	}

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].timestamp < ordered[j].timestamp })

	for _, item := range ordered {
		if err := loadIlluminanceReading(s, item.reading, item.timestamp); err != nil {
			log.Warn("skipping illuminance reading", "err", err.Error())
		}
	}

	return s
}

func loadIlluminanceReading(s *State, r IlluminanceReading, timestamp int64) error {
	cabinetName := tools.Str(r.Cabinet.Ptr())
	if cabinetName == nil {
		return errMissingField("Ohjauskeskus")
	}
	cabinetIdentifier := strings.ReplaceAll(*cabinetName, " ", "_")

	illuminance, err := tools.Int(r.Illuminance.Ptr())
	if err != nil {
		return err
	}
	luxOn, err := tools.Int(r.LuxLimitOn.Ptr())
	if err != nil {
		return err
	}
	luxOff, err := tools.Int(r.LuxLimitOff.Ptr())
	if err != nil {
		return err
	}

	cabinetID := types.NewEntityID(streetlight.CabinetTypeName, cabinetIdentifier)
	cabinet, ok := s.Entity(cabinetID)
	if !ok {
		cabinet = s.addEntity(streetlight.NewControlCabinet(cabinetID, timestamp))
	}

	s.propose(cabinet, []candidate{
		{streetlight.AttrIlluminanceOn, types.TypeNumber, intNumber(luxOn)},
		{streetlight.AttrIlluminanceOff, types.TypeNumber, intNumber(luxOff)},
	}, timestamp, nil, StrictlyNewer)

	sensorID := types.NewEntityID(streetlight.DeviceTypeName, "illuminance_"+cabinetIdentifier)
	sensor, ok := s.Entity(sensorID)
	if !ok {
		sensor = s.addEntity(streetlight.NewIlluminanceSensor(sensorID, cabinet))
	}

	measurementID := types.NewEntityID(streetlight.WeatherObservedTypeName, cabinetIdentifier)
	measurement, ok := s.Entity(measurementID)
	if !ok {
		measurement = s.addEntity(streetlight.NewIlluminanceMeasurement(measurementID, sensor.ID, timestamp))
	}

	s.propose(measurement, []candidate{
		{streetlight.AttrIlluminance, types.TypeNumber, intNumber(illuminance)},
		{streetlight.AttrDateObserved, types.TypeDateTime, types.DateTime(timestamp)},
	}, timestamp, nil, AllowEqualValue)

	return nil
}

func intNumber(value *int64) types.Value {
	if value == nil {
		return nil
	}
	return types.Number(float64(*value))
}
