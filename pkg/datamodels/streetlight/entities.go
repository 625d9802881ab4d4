// Package streetlight holds the entity data models of the streetlight data
// set and the builders that produce fully populated entities for first-seen
// identifiers.
package streetlight

import (
	"strings"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

// NewPostalAddress returns a postal address attribute for the deployment's
// fixed locality.
func NewPostalAddress(streetAddress string) types.Attribute {
	return types.NewAttribute(types.TypeStructuredValue, types.PostalAddress{
		Country:  "FI",
		Locality: "Tampere",
		Street:   streetAddress,
	})
}

// NewLocation returns a geo:json location attribute.
func NewLocation(latitude, longitude float64) types.Attribute {
	return types.NewAttribute(types.TypeGeoJSON, types.Point{
		Latitude:  latitude,
		Longitude: longitude,
	})
}

// NewControlCabinet returns an entity for a streetlight control cabinet.
// The illuminance thresholds start without values, pending the first update.
func NewControlCabinet(entityID string, timestamp int64) *types.Entity {
	e := &types.Entity{
		ID:         entityID,
		Type:       CabinetTypeName,
		Attributes: map[string]types.Attribute{},
	}

	e.SetAttribute(AttrRefStreetlightGroup, types.NewAttribute(types.TypeStructuredValue, types.TextList{}))
	e.SetAttribute(AttrWorkingMode, types.NewAttribute(types.TypeText, types.Text("automatic")))
	e.SetAttribute(AttrIlluminanceOn, types.NewAttribute(types.TypeNumber, nil, types.Timestamp(timestamp)))
	e.SetAttribute(AttrIlluminanceOff, types.NewAttribute(types.TypeNumber, nil, types.Timestamp(timestamp)))

	return e
}

// NewIlluminanceSensor returns a Device entity for the illuminance sensor
// owned by the given cabinet.
func NewIlluminanceSensor(sensorID string, cabinet *types.Entity) *types.Entity {
	e := &types.Entity{
		ID:         sensorID,
		Type:       DeviceTypeName,
		Attributes: map[string]types.Attribute{},
	}

	e.SetAttribute(AttrCategory, types.NewAttribute(types.TypeStructuredValue, types.TextList{"sensor"}))
	e.SetAttribute(AttrControlledProperty, types.NewAttribute(types.TypeStructuredValue, types.TextList{"light"}))
	e.SetAttribute(AttrOwner, types.NewAttribute(types.TypeText, types.Text(cabinet.ID)))

	return e
}

// NewIlluminanceMeasurement returns a WeatherObserved entity that carries
// the illuminance readings reported by the given sensor.
func NewIlluminanceMeasurement(measurementID, sensorID string, timestamp int64) *types.Entity {
	e := &types.Entity{
		ID:         measurementID,
		Type:       WeatherObservedTypeName,
		Attributes: map[string]types.Attribute{},
	}

	e.SetAttribute(AttrDateObserved, types.NewAttribute(types.TypeDateTime, types.DateTime(timestamp)))
	e.SetAttribute(AttrRefDevice, types.NewAttribute(types.TypeText, types.Text(sensorID)))
	e.SetAttribute(AttrIlluminance, types.NewAttribute(types.TypeNumber, nil, types.Timestamp(timestamp)))

	return e
}

// NewGroup returns an entity for a streetlight group. The cabinetID may be
// empty when the owning cabinet is not yet known.
func NewGroup(groupID, cabinetID string, relays []string, timestamp int64) *types.Entity {
	e := &types.Entity{
		ID:         groupID,
		Type:       GroupTypeName,
		Attributes: map[string]types.Attribute{},
	}

	controller := types.NewAttribute(types.TypeText, types.Text(""),
		types.M(MetadataRelays, types.Metadata{Type: types.TypeStructuredValue, Value: types.NestedTextList{}}))

	if cabinetID != "" {
		controller.Value = types.Text(cabinetID)
		controller.Metadata[MetadataRelays] = types.Metadata{
			Type:  types.TypeStructuredValue,
			Value: types.NestedTextList{relays},
		}
	}

	e.SetAttribute(AttrRefCabinetController, controller)
	e.SetAttribute(AttrIntensity, types.NewAttribute(types.TypeStructuredValue, types.Phases{}, types.Timestamp(timestamp)))
	e.SetAttribute(AttrVoltage, types.NewAttribute(types.TypeStructuredValue, types.Phases{}, types.Timestamp(timestamp)))

	return e
}

// NewDoorSensor returns a Device entity for the door sensor of the given
// streetlight group.
func NewDoorSensor(sensorID string, group *types.Entity, timestamp int64) *types.Entity {
	e := &types.Entity{
		ID:         sensorID,
		Type:       DeviceTypeName,
		Attributes: map[string]types.Attribute{},
	}

	e.SetAttribute(AttrCategory, types.NewAttribute(types.TypeStructuredValue, types.TextList{"sensor"}))
	e.SetAttribute(AttrControlledProperty, types.NewAttribute(types.TypeStructuredValue, types.TextList{"motion"}))
	e.SetAttribute(AttrValue, types.NewAttribute(types.TypeText, types.Text("unknown"), types.Timestamp(timestamp)))
	e.SetAttribute(AttrOwner, types.NewAttribute(types.TypeText, types.Text(group.ID)))

	return e
}

// AddCabinetController records a reference from a streetlight group to a
// control cabinet. The controller list and its relay metadata accumulate
// references and never shrink; adding a cabinet that is already referenced
// is a no-op.
func AddCabinetController(group *types.Entity, cabinetID string, relays []string) {
	if cabinetID == "" {
		return
	}

	controller, ok := group.Attribute(AttrRefCabinetController)
	if !ok {
		return
	}

	current, _ := controller.Value.(types.Text)
	controllerIDs := SplitControllerList(string(current))

	for _, id := range controllerIDs {
		if id == cabinetID {
			return
		}
	}

	controllerIDs = append(controllerIDs, cabinetID)
	controller.Value = types.Text(strings.Join(controllerIDs, ControllerDelimiter))

	relayLists, _ := controller.Metadata[MetadataRelays].Value.(types.NestedTextList)
	controller.Metadata[MetadataRelays] = types.Metadata{
		Type:  types.TypeStructuredValue,
		Value: append(relayLists, relays),
	}

	group.SetAttribute(AttrRefCabinetController, controller)
}

// SplitControllerList splits a delimited controller list value into cabinet
// ids, dropping the empty entry of an unset list.
func SplitControllerList(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ControllerDelimiter)
}
