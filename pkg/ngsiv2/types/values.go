package types

import (
	"bytes"
	"encoding/json"

	"github.com/cityiot/streetlight-sync/pkg/temporal"
)

// Value is the tagged union of attribute values that the NGSI v2 data model
// of this service can carry.
type Value interface {
	Equal(other Value) bool
	Clone() Value
}

// Text stores values of type text
type Text string

func (t Text) Equal(other Value) bool {
	o, ok := other.(Text)
	return ok && t == o
}

func (t Text) Clone() Value { return t }

// Number holds a float64 value
type Number float64

func (n Number) Equal(other Value) bool {
	o, ok := other.(Number)
	return ok && n == o
}

func (n Number) Clone() Value { return n }

// DateTime holds an epoch millisecond timestamp. It marshals to an ISO 8601
// string, which is the representation the context broker expects.
type DateTime int64

func (dt DateTime) Equal(other Value) bool {
	o, ok := other.(DateTime)
	return ok && dt == o
}

func (dt DateTime) Clone() Value { return dt }

func (dt DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(temporal.ISOFromEpochMillis(int64(dt)))
}

// TextList stores values of type text list
type TextList []string

func (tl TextList) Equal(other Value) bool {
	o, ok := other.(TextList)
	if !ok || len(tl) != len(o) {
		return false
	}
	for i := range tl {
		if tl[i] != o[i] {
			return false
		}
	}
	return true
}

func (tl TextList) Clone() Value {
	clone := make(TextList, len(tl))
	copy(clone, tl)
	return clone
}

// NestedTextList stores a list of text lists, used for the relay groups of
// a streetlight cabinet reference.
type NestedTextList [][]string

func (nl NestedTextList) Equal(other Value) bool {
	o, ok := other.(NestedTextList)
	if !ok || len(nl) != len(o) {
		return false
	}
	for i := range nl {
		if !TextList(nl[i]).Equal(TextList(o[i])) {
			return false
		}
	}
	return true
}

func (nl NestedTextList) Clone() Value {
	clone := make(NestedTextList, len(nl))
	for i := range nl {
		clone[i] = append([]string{}, nl[i]...)
	}
	return clone
}

// Phases holds one measurement value per electrical phase. A nil field means
// the phase has no known value yet.
type Phases struct {
	L1 *float64 `json:"L1"`
	L2 *float64 `json:"L2"`
	L3 *float64 `json:"L3"`
}

func (p Phases) Equal(other Value) bool {
	o, ok := other.(Phases)
	return ok &&
		floatPtrEqual(p.L1, o.L1) &&
		floatPtrEqual(p.L2, o.L2) &&
		floatPtrEqual(p.L3, o.L3)
}

func (p Phases) Clone() Value {
	return Phases{
		L1: cloneFloatPtr(p.L1),
		L2: cloneFloatPtr(p.L2),
		L3: cloneFloatPtr(p.L3),
	}
}

// IsEmpty reports whether no phase carries a value.
func (p Phases) IsEmpty() bool {
	return p.L1 == nil && p.L2 == nil && p.L3 == nil
}

// Merge fills the receiver's nil phases from the other value. Phases that
// already carry a value are kept.
func (p Phases) Merge(other Phases) Phases {
	merged := p.Clone().(Phases)
	if merged.L1 == nil {
		merged.L1 = cloneFloatPtr(other.L1)
	}
	if merged.L2 == nil {
		merged.L2 = cloneFloatPtr(other.L2)
	}
	if merged.L3 == nil {
		merged.L3 = cloneFloatPtr(other.L3)
	}
	return merged
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneFloatPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	clone := *f
	return &clone
}

// PostalAddress is the structured postal address of a cabinet or group.
type PostalAddress struct {
	Country  string `json:"addressCountry"`
	Locality string `json:"addressLocality"`
	Street   string `json:"streetAddress"`
}

func (pa PostalAddress) Equal(other Value) bool {
	o, ok := other.(PostalAddress)
	return ok && pa == o
}

func (pa PostalAddress) Clone() Value { return pa }

// Point is a geo:json point. The coordinate order is latitude first, which
// is what the downstream consumers of this data set expect.
type Point struct {
	Latitude  float64
	Longitude float64
}

func (p Point) Equal(other Value) bool {
	o, ok := other.(Point)
	return ok && p == o
}

func (p Point) Clone() Value { return p }

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}{
		Type:        "Point",
		Coordinates: []float64{p.Latitude, p.Longitude},
	})
}

// Raw carries an attribute value this service does not model. It survives
// round trips unmodified so that untouched remote attributes are never
// mangled by a patch.
type Raw json.RawMessage

func (r Raw) Equal(other Value) bool {
	o, ok := other.(Raw)
	return ok && bytes.Equal(r, o)
}

func (r Raw) Clone() Value {
	return Raw(append([]byte{}, r...))
}

func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(r).MarshalJSON()
}
