package reconcile

import (
	"encoding/json"
	"fmt"
)

// RawField is a vendor API field that may arrive as a JSON string, a JSON
// number or null. It decodes to the string form so the usual coercion
// helpers apply regardless of how the vendor serialised the value.
type RawField struct {
	value *string
}

func NewRawField(s string) RawField {
	return RawField{value: &s}
}

func (f *RawField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		f.value = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.value = &s
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		s := n.String()
		f.value = &s
		return nil
	}

	return fmt.Errorf("field is neither string, number nor null: %s", string(data))
}

func (f RawField) MarshalJSON() ([]byte, error) {
	if f.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.value)
}

// Ptr returns the field as an optional string for the coercion helpers.
func (f RawField) Ptr() *string {
	return f.value
}

// IlluminanceReading is one row from the illuminance sensor API.
type IlluminanceReading struct {
	Cabinet     RawField `json:"Ohjauskeskus"`
	Time        RawField `json:"Aika"`
	Illuminance RawField `json:"valoisuusarvo"`
	LuxLimitOn  RawField `json:"lux_limit_on"`
	LuxLimitOff RawField `json:"lux_limit_off"`
}

// ElectricityReading is one row from the electricity metering API.
type ElectricityReading struct {
	Group         RawField `json:"KV_keskus"`
	PhaseID       RawField `json:"Vaiheet"`
	Measurement   RawField `json:"Virta_Jännite"`
	RawValue      RawField `json:"lukema_raw"`
	Time          RawField `json:"Aika"`
	StreetAddress RawField `json:"Katuosoite"`
	Relays        RawField `json:"Releet"`
	Cabinet       RawField `json:"Ohjauskeskus"`
	LuxLimitOn    RawField `json:"lux_limit_on"`
	LuxLimitOff   RawField `json:"lux_limit_off"`
}

func errMissingField(name string) error {
	return fmt.Errorf("reading is missing the %s field", name)
}

// DoorSensorReading is one row from the door sensor API.
type DoorSensorReading struct {
	Name      RawField `json:"name"`
	Attribute RawField `json:"attribute"`
	Time      RawField `json:"time"`
}
