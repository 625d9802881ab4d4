package streetlight

const (
	CabinetTypeName         string = "StreetlightControlCabinet"
	GroupTypeName           string = "StreetlightGroup"
	DeviceTypeName          string = "Device"
	WeatherObservedTypeName string = "WeatherObserved"
)

const (
	AttrAddress              string = "address"
	AttrCategory             string = "category"
	AttrControlledProperty   string = "controlledProperty"
	AttrDateObserved         string = "dateObserved"
	AttrIlluminance          string = "illuminance"
	AttrIlluminanceOff       string = "illuminanceOff"
	AttrIlluminanceOn        string = "illuminanceOn"
	AttrIntensity            string = "intensity"
	AttrLocation             string = "location"
	AttrOwner                string = "owner"
	AttrRefCabinetController string = "refStreetlightCabinetController"
	AttrRefDevice            string = "refDevice"
	AttrRefStreetlightGroup  string = "refStreetlightGroup"
	AttrValue                string = "value"
	AttrVoltage              string = "voltage"
	AttrWorkingMode          string = "workingMode"
)

// ControllerDelimiter separates cabinet ids in a group's controller list,
// which the broker stores as a single delimited Text value.
const ControllerDelimiter string = "___"

// MetadataRelays is the metadata entry on a group's controller reference
// that holds one relay list per referenced cabinet.
const MetadataRelays string = "relays"
