package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
	"github.com/cityiot/streetlight-sync/pkg/temporal"
	"github.com/cityiot/streetlight-sync/pkg/tools"
)

const (
	measurementCurrent = "CurrentCluster.currentPresentValue"
	measurementVoltage = "VoltageCluster.voltagePresentValue"
)

// the phase identifiers in the metering feed are offset from the L1..L3 names
const phaseIDOffset = 32

// LoadElectricity folds a batch of electricity readings into a copy of the
// given state. Each reading carries the current or voltage of one electrical
// phase of a streetlight group, plus the group's wiring: its owning cabinet,
// relays and street address.
func LoadElectricity(ctx context.Context, readings []ElectricityReading, state *State) *State {
	log := logging.GetFromContext(ctx)
	s := state.Clone()

	type timed struct {
		reading   ElectricityReading
		timestamp int64
	}

	ordered := make([]timed, 0, len(readings))
	for _, r := range readings {
		timeValue := tools.Str(r.Time.Ptr())
		if timeValue == nil {
			log.Warn("skipping electricity reading without a time value")
			continue
		}

		ts, err := temporal.ToEpochMillis(*timeValue, temporal.DefaultLayout, temporal.VendorFractionalDigits, true)
		if err != nil {
			log.Warn("skipping electricity reading", "err", err.Error())
			continue
		}

		ordered = append(ordered, timed{reading: r, timestamp: ts})
	}

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].timestamp < ordered[j].timestamp })

	for _, item := range ordered {
		if err := loadElectricityReading(s, item.reading, item.timestamp); err != nil {
			log.Warn("skipping electricity reading", "err", err.Error())
		}
	}

	return s
}

func loadElectricityReading(s *State, r ElectricityReading, timestamp int64) error {
	groupName := tools.Str(r.Group.Ptr())
	if groupName == nil {
		return errMissingField("KV_keskus")
	}
	groupIdentifier := strings.ReplaceAll(*groupName, " ", "_")

	phaseID, err := tools.Int(r.PhaseID.Ptr())
	if err != nil {
		return err
	}
	if phaseID == nil {
		return errMissingField("Vaiheet")
	}

	rawValue, err := tools.Float(r.RawValue.Ptr())
	if err != nil {
		return err
	}
	if rawValue == nil {
		return errMissingField("lukema_raw")
	}
	// the feed reports fixed point readings scaled by ten
	value := *rawValue / 10

	intensity := types.Phases{}
	voltage := types.Phases{}

	var target *types.Phases
	if measurement := tools.Str(r.Measurement.Ptr()); measurement != nil {
		switch *measurement {
		case measurementCurrent:
			target = &intensity
		case measurementVoltage:
			target = &voltage
		}
	}

	if target != nil {
		switch *phaseID - phaseIDOffset {
		case 1:
			target.L1 = &value
		case 2:
			target.L2 = &value
		case 3:
			target.L3 = &value
		default:
			return fmt.Errorf("reading has an unknown phase identifier %d", *phaseID)
		}
	}

	address := tools.TitleCase(r.StreetAddress.Ptr())
	relays := tools.List(r.Relays.Ptr(), " ")

	groupID := types.NewEntityID(streetlight.GroupTypeName, groupIdentifier)

	cabinetID := ""
	if cabinetName := tools.Str(r.Cabinet.Ptr()); cabinetName != nil {
		cabinetIdentifier := strings.ReplaceAll(*cabinetName, " ", "_")
		cabinetID = types.NewEntityID(streetlight.CabinetTypeName, cabinetIdentifier)

		cabinet, ok := s.Entity(cabinetID)
		if !ok {
			cabinet = s.addEntity(streetlight.NewControlCabinet(cabinetID, timestamp))
		}

		luxOn, err := tools.Int(r.LuxLimitOn.Ptr())
		if err != nil {
			return err
		}
		luxOff, err := tools.Int(r.LuxLimitOff.Ptr())
		if err != nil {
			return err
		}

		s.propose(cabinet, []candidate{
			{streetlight.AttrIlluminanceOn, types.TypeNumber, intNumber(luxOn)},
			{streetlight.AttrIlluminanceOff, types.TypeNumber, intNumber(luxOff)},
		}, timestamp, nil, StrictlyNewer)

		addGroupReference(cabinet, groupID)

		// a cabinet powering its own group carries the street address too
		if groupIdentifier == cabinetIdentifier && address != nil && !cabinet.HasAttribute(streetlight.AttrAddress) {
			cabinet.SetAttribute(streetlight.AttrAddress, streetlight.NewPostalAddress(*address))
		}
	}

	group, ok := s.Entity(groupID)
	if !ok {
		group = s.addEntity(streetlight.NewGroup(groupID, cabinetID, relays, timestamp))
	} else {
		streetlight.AddCabinetController(group, cabinetID, relays)
	}

	if address != nil && !group.HasAttribute(streetlight.AttrAddress) {
		group.SetAttribute(streetlight.AttrAddress, streetlight.NewPostalAddress(*address))
	}

	s.propose(group, []candidate{
		{streetlight.AttrIntensity, types.TypeStructuredValue, intensity},
		{streetlight.AttrVoltage, types.TypeStructuredValue, voltage},
	}, timestamp, types.Phases{}, AllowEqualTime)

	return nil
}

func addGroupReference(cabinet *types.Entity, groupID string) {
	ref, ok := cabinet.Attribute(streetlight.AttrRefStreetlightGroup)
	if !ok {
		return
	}

	groups, _ := ref.Value.(types.TextList)
	for _, id := range groups {
		if id == groupID {
			return
		}
	}

	ref.Value = append(groups, groupID)
	cabinet.SetAttribute(streetlight.AttrRefStreetlightGroup, ref)
}
