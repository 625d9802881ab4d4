package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
	"github.com/cityiot/streetlight-sync/pkg/temporal"
	"github.com/cityiot/streetlight-sync/pkg/tools"
)

const doorStatePrefix = "BinaryInputCluster.binaryPresentValue="

// LoadDoorSensors folds a batch of door sensor readings into a copy of the
// given state. Door sensor times arrive in UTC, unlike the other feeds.
func LoadDoorSensors(ctx context.Context, readings []DoorSensorReading, state *State) *State {
	log := logging.GetFromContext(ctx)
	s := state.Clone()

	type timed struct {
		reading   DoorSensorReading
		timestamp int64
	}

	ordered := make([]timed, 0, len(readings))
	for _, r := range readings {
		timeValue := tools.Str(r.Time.Ptr())
		if timeValue == nil {
			log.Warn("skipping door sensor reading without a time value")
			continue
		}

		ts, err := temporal.ToEpochMillis(*timeValue, temporal.DefaultLayout, temporal.VendorFractionalDigits, false)
		if err != nil {
			log.Warn("skipping door sensor reading", "err", err.Error())
			continue
		}

		ordered = append(ordered, timed{reading: r, timestamp: ts})
	}

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].timestamp < ordered[j].timestamp })

	for _, item := range ordered {
		if err := loadDoorSensorReading(s, item.reading, item.timestamp); err != nil {
			log.Warn("skipping door sensor reading", "err", err.Error())
		}
	}

	return s
}

func loadDoorSensorReading(s *State, r DoorSensorReading, timestamp int64) error {
	groupName := tools.Str(r.Name.Ptr())
	if groupName == nil {
		return errMissingField("name")
	}
	groupIdentifier := strings.ReplaceAll(*groupName, " ", "_")

	attribute := tools.Str(r.Attribute.Ptr())
	if attribute == nil {
		return errMissingField("attribute")
	}
	if !strings.HasPrefix(*attribute, doorStatePrefix) {
		return fmt.Errorf("reading has an unknown attribute %q", *attribute)
	}

	state, err := strconv.Atoi(strings.TrimPrefix(*attribute, doorStatePrefix))
	if err != nil {
		return fmt.Errorf("failed to parse door state from %q: %w", *attribute, err)
	}

	doorState := "open"
	if state == 1 {
		doorState = "closed"
	}

	groupID := types.NewEntityID(streetlight.GroupTypeName, groupIdentifier)
	group, ok := s.Entity(groupID)
	if !ok {
		group = s.addEntity(streetlight.NewGroup(groupID, "", nil, timestamp))
	}

	sensorID := types.NewEntityID(streetlight.DeviceTypeName, "doorsensor_"+groupIdentifier)
	sensor, ok := s.Entity(sensorID)
	if !ok {
		sensor = s.addEntity(streetlight.NewDoorSensor(sensorID, group, timestamp))
	}

	s.propose(sensor, []candidate{
		{streetlight.AttrValue, types.TypeText, types.Text(doorState)},
	}, timestamp, nil, AllowEqualValue)

	return nil
}
