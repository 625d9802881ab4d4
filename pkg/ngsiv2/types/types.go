// Package types implements the NGSI v2 entity and attribute model used by
// the streetlight data set.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cityiot/streetlight-sync/pkg/temporal"
)

type AttributeType string

const (
	TypeText            AttributeType = "Text"
	TypeNumber          AttributeType = "Number"
	TypeDateTime        AttributeType = "DateTime"
	TypeStructuredValue AttributeType = "StructuredValue"
	TypeGeoJSON         AttributeType = "geo:json"
)

// Metadata is a single named metadata entry on an attribute, conventionally
// "timestamp" (last changed time) or "unitCode".
type Metadata struct {
	Type  AttributeType `json:"type"`
	Value Value         `json:"value"`
}

func (m Metadata) Equal(other Metadata) bool {
	if m.Type != other.Type {
		return false
	}
	if m.Value == nil || other.Value == nil {
		return m.Value == other.Value
	}
	return m.Value.Equal(other.Value)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	header := struct {
		Type  AttributeType   `json:"type"`
		Value json.RawMessage `json:"value"`
	}{}

	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	value, err := unmarshalValue(header.Type, header.Value)
	if err != nil {
		return err
	}

	m.Type = header.Type
	m.Value = value
	return nil
}

// Attribute is a tagged attribute value with optional metadata. A nil Value
// means the attribute has no known value yet.
type Attribute struct {
	Type     AttributeType       `json:"type"`
	Value    Value               `json:"value"`
	Metadata map[string]Metadata `json:"metadata"`
}

type AttributeDecoratorFunc func(a *Attribute)

// MetadataTimestamp is the metadata entry that carries an attribute's last
// changed time.
const MetadataTimestamp string = "timestamp"

// MetadataUnitCode is the metadata entry that carries a measurement unit.
const MetadataUnitCode string = "unitCode"

func Timestamp(ms int64) AttributeDecoratorFunc {
	return func(a *Attribute) {
		a.Metadata[MetadataTimestamp] = Metadata{Type: TypeDateTime, Value: DateTime(ms)}
	}
}

func UnitCode(code string) AttributeDecoratorFunc {
	return func(a *Attribute) {
		a.Metadata[MetadataUnitCode] = Metadata{Type: TypeText, Value: Text(code)}
	}
}

func M(name string, meta Metadata) AttributeDecoratorFunc {
	return func(a *Attribute) {
		a.Metadata[name] = meta
	}
}

// NewAttribute creates an attribute of the given type and value, applying
// any metadata decorators.
func NewAttribute(attributeType AttributeType, value Value, decorators ...AttributeDecoratorFunc) Attribute {
	a := Attribute{
		Type:     attributeType,
		Value:    value,
		Metadata: map[string]Metadata{},
	}

	for _, decorate := range decorators {
		decorate(&a)
	}

	return a
}

// ObservedMillis returns the epoch millisecond value of the attribute's
// timestamp metadata, if present.
func (a Attribute) ObservedMillis() (int64, bool) {
	meta, ok := a.Metadata[MetadataTimestamp]
	if !ok {
		return 0, false
	}

	dt, ok := meta.Value.(DateTime)
	if !ok {
		return 0, false
	}

	return int64(dt), true
}

func (a Attribute) Clone() Attribute {
	clone := Attribute{
		Type:     a.Type,
		Metadata: make(map[string]Metadata, len(a.Metadata)),
	}

	if a.Value != nil {
		clone.Value = a.Value.Clone()
	}

	for name, meta := range a.Metadata {
		cloned := Metadata{Type: meta.Type}
		if meta.Value != nil {
			cloned.Value = meta.Value.Clone()
		}
		clone.Metadata[name] = cloned
	}

	return clone
}

func (a Attribute) MarshalJSON() ([]byte, error) {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]Metadata{}
	}

	return json.Marshal(struct {
		Type     AttributeType       `json:"type"`
		Value    Value               `json:"value"`
		Metadata map[string]Metadata `json:"metadata"`
	}{a.Type, a.Value, metadata})
}

func (a *Attribute) UnmarshalJSON(data []byte) error {
	header := struct {
		Type     AttributeType       `json:"type"`
		Value    json.RawMessage     `json:"value"`
		Metadata map[string]Metadata `json:"metadata"`
	}{}

	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	value, err := unmarshalValue(header.Type, header.Value)
	if err != nil {
		return err
	}

	a.Type = header.Type
	a.Value = value
	a.Metadata = header.Metadata
	if a.Metadata == nil {
		a.Metadata = map[string]Metadata{}
	}

	return nil
}

func unmarshalValue(attributeType AttributeType, data json.RawMessage) (Value, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	switch attributeType {
	case TypeText:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("text attribute value is not a string: %w", err)
		}
		return Text(s), nil
	case TypeNumber:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("number attribute value is not numeric: %w", err)
		}
		return Number(f), nil
	case TypeDateTime:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("datetime attribute value is not a string: %w", err)
		}
		ms, err := temporal.ToEpochMillis(s, temporal.DefaultLayout, temporal.BrokerFractionalDigits, false)
		if err != nil {
			return nil, err
		}
		return DateTime(ms), nil
	case TypeStructuredValue:
		return unmarshalStructuredValue(data)
	case TypeGeoJSON:
		point := struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		}{}
		if err := json.Unmarshal(data, &point); err != nil || len(point.Coordinates) < 2 {
			return Raw(append([]byte{}, data...)), nil
		}
		return Point{Latitude: point.Coordinates[0], Longitude: point.Coordinates[1]}, nil
	default:
		return Raw(append([]byte{}, data...)), nil
	}
}

func unmarshalStructuredValue(data json.RawMessage) (Value, error) {
	trimmed := strings.TrimSpace(string(data))

	if strings.HasPrefix(trimmed, "[") {
		var nested [][]string
		if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
			return NestedTextList(nested), nil
		}

		var list []string
		if err := json.Unmarshal(data, &list); err == nil {
			return TextList(list), nil
		}

		return Raw(append([]byte{}, data...)), nil
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("unsupported structured value: %w", err)
	}

	if _, ok := object["L1"]; ok {
		var phases Phases
		if err := json.Unmarshal(data, &phases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal phase struct: %w", err)
		}
		return phases, nil
	}

	if _, ok := object["addressCountry"]; ok {
		var address PostalAddress
		if err := json.Unmarshal(data, &address); err != nil {
			return nil, fmt.Errorf("failed to unmarshal postal address: %w", err)
		}
		return address, nil
	}

	return Raw(append([]byte{}, data...)), nil
}
