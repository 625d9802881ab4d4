package streetlight

import (
	"testing"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
	"github.com/matryer/is"
)

func TestNewControlCabinetDefaults(t *testing.T) {
	is := is.New(t)

	cabinet := NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)

	mode, ok := cabinet.Attribute(AttrWorkingMode)
	is.True(ok)
	is.True(mode.Value.Equal(types.Text("automatic")))

	on, ok := cabinet.Attribute(AttrIlluminanceOn)
	is.True(ok)
	is.Equal(on.Value, nil) // no threshold before the first reading

	observed, ok := on.ObservedMillis()
	is.True(ok)
	is.Equal(observed, int64(1000))
}

func TestNewGroupWithoutCabinet(t *testing.T) {
	is := is.New(t)

	group := NewGroup("StreetlightGroup:G1", "", nil, 1000)

	controller, ok := group.Attribute(AttrRefCabinetController)
	is.True(ok)
	is.True(controller.Value.Equal(types.Text("")))
	is.True(controller.Metadata[MetadataRelays].Value.Equal(types.NestedTextList{}))

	intensity, _ := group.Attribute(AttrIntensity)
	is.True(intensity.Value.Equal(types.Phases{}))
}

func TestAddCabinetControllerAccumulates(t *testing.T) {
	is := is.New(t)

	group := NewGroup("StreetlightGroup:G1", "StreetlightControlCabinet:Cab_1", []string{"1", "2"}, 1000)

	// already referenced: no-op
	AddCabinetController(group, "StreetlightControlCabinet:Cab_1", []string{"1", "2"})
	controller, _ := group.Attribute(AttrRefCabinetController)
	is.True(controller.Value.Equal(types.Text("StreetlightControlCabinet:Cab_1")))

	AddCabinetController(group, "StreetlightControlCabinet:Cab_2", []string{"3"})
	controller, _ = group.Attribute(AttrRefCabinetController)
	is.True(controller.Value.Equal(types.Text("StreetlightControlCabinet:Cab_1___StreetlightControlCabinet:Cab_2")))
	is.True(controller.Metadata[MetadataRelays].Value.Equal(types.NestedTextList{{"1", "2"}, {"3"}}))
}

func TestAddCabinetControllerToUnsetList(t *testing.T) {
	is := is.New(t)

	group := NewGroup("StreetlightGroup:G1", "", nil, 1000)
	AddCabinetController(group, "StreetlightControlCabinet:Cab_1", []string{"1"})

	controller, _ := group.Attribute(AttrRefCabinetController)
	is.True(controller.Value.Equal(types.Text("StreetlightControlCabinet:Cab_1")))
}

func TestSchemasCoverAllEntityTypes(t *testing.T) {
	is := is.New(t)

	for _, entityType := range EntityTypes() {
		_, ok := Schema(entityType)
		is.True(ok)
	}

	_, ok := Schema("Unknown")
	is.True(!ok)
}

func TestWeatherObservedDynamicAttributesAreGrouped(t *testing.T) {
	is := is.New(t)

	schema, _ := Schema(WeatherObservedTypeName)
	is.Equal(schema.DynamicGroups(), [][]string{{AttrDateObserved, AttrIlluminance}})
	is.Equal(schema.DynamicFlat(), []string{AttrDateObserved, AttrIlluminance})
}

func TestCabinetDynamicAttributesAreIndividual(t *testing.T) {
	is := is.New(t)

	schema, _ := Schema(CabinetTypeName)
	is.Equal(schema.DynamicGroups(), [][]string{{AttrIlluminanceOn}, {AttrIlluminanceOff}})
}
