package streetlight

import (
	"github.com/cityiot/streetlight-sync/pkg/tools"
)

// AttributeSchema is the static/dynamic attribute split for an entity type.
// Static attributes change rarely and are subscribed to as a group. Dynamic
// attributes change with every reading and are notified individually, or as
// a small fixed group when nested.
type AttributeSchema struct {
	Static  []string
	Dynamic []tools.Item[string]
}

// DynamicFlat returns all dynamic attribute names with any grouping removed.
func (s AttributeSchema) DynamicFlat() []string {
	return tools.Flatten(s.Dynamic)
}

// DynamicGroups returns the dynamic attributes as notification groups: one
// single-element group per plain attribute, and the member list for each
// grouped set.
func (s AttributeSchema) DynamicGroups() [][]string {
	groups := make([][]string, 0, len(s.Dynamic))

	for _, item := range s.Dynamic {
		switch node := item.(type) {
		case tools.Leaf[string]:
			groups = append(groups, []string{node.Value})
		case tools.Nested[string]:
			groups = append(groups, tools.Flatten(node.Items))
		}
	}

	return groups
}

func leaf(name string) tools.Item[string] {
	return tools.Leaf[string]{Value: name}
}

func group(names ...string) tools.Item[string] {
	items := make([]tools.Item[string], 0, len(names))
	for _, name := range names {
		items = append(items, leaf(name))
	}
	return tools.Nested[string]{Items: items}
}

var schemas = map[string]AttributeSchema{
	CabinetTypeName: {
		Static:  []string{AttrAddress, AttrLocation, AttrRefStreetlightGroup, AttrWorkingMode},
		Dynamic: []tools.Item[string]{leaf(AttrIlluminanceOn), leaf(AttrIlluminanceOff)},
	},
	GroupTypeName: {
		Static:  []string{AttrAddress, AttrLocation, AttrRefCabinetController},
		Dynamic: []tools.Item[string]{leaf(AttrIntensity), leaf(AttrVoltage)},
	},
	DeviceTypeName: {
		Static:  []string{AttrCategory, AttrControlledProperty, AttrLocation, AttrOwner},
		Dynamic: []tools.Item[string]{leaf(AttrValue)},
	},
	WeatherObservedTypeName: {
		Static: []string{AttrAddress, AttrLocation, AttrRefDevice},
		// dateObserved and illuminance arrive as a pair and are notified together
		Dynamic: []tools.Item[string]{group(AttrDateObserved, AttrIlluminance)},
	},
}

// EntityTypes returns the entity types of the streetlight data set.
func EntityTypes() []string {
	return []string{DeviceTypeName, WeatherObservedTypeName, CabinetTypeName, GroupTypeName}
}

// Schema returns the attribute schema for the given entity type.
func Schema(entityType string) (AttributeSchema, bool) {
	s, ok := schemas[entityType]
	return s, ok
}
