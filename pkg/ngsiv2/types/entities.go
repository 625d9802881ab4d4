package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entity is a typed, identified record in the context broker data model. An
// entity holding only a subset of its attributes doubles as the fragment
// sent in append and patch operations.
type Entity struct {
	ID         string
	Type       string
	Attributes map[string]Attribute
}

// NewEntityID derives the deterministic entity id for a type and identifier.
func NewEntityID(entityType, identifier string) string {
	return entityType + ":" + identifier
}

func NewEntity(entityType, identifier string) *Entity {
	return &Entity{
		ID:         NewEntityID(entityType, identifier),
		Type:       entityType,
		Attributes: map[string]Attribute{},
	}
}

// Attribute returns the named attribute, if present.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	a, ok := e.Attributes[name]
	return a, ok
}

func (e *Entity) SetAttribute(name string, a Attribute) {
	if e.Attributes == nil {
		e.Attributes = map[string]Attribute{}
	}
	e.Attributes[name] = a
}

// HasAttribute reports whether the named attribute is present.
func (e *Entity) HasAttribute(name string) bool {
	_, ok := e.Attributes[name]
	return ok
}

func (e *Entity) Clone() *Entity {
	clone := &Entity{
		ID:         e.ID,
		Type:       e.Type,
		Attributes: make(map[string]Attribute, len(e.Attributes)),
	}

	for name, a := range e.Attributes {
		clone.Attributes[name] = a.Clone()
	}

	return clone
}

// AttributeNames returns the entity's attribute names in sorted order.
func (e *Entity) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	contents := make(map[string]any, len(e.Attributes)+2)

	contents["id"] = e.ID
	contents["type"] = e.Type

	for name, a := range e.Attributes {
		contents[name] = a
	}

	return json.Marshal(contents)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var contents map[string]json.RawMessage
	if err := json.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("failed to unmarshal entity: %w", err)
	}

	header := struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}{}

	if err := json.Unmarshal(data, &header); err != nil {
		return fmt.Errorf("failed to unmarshal entity: %w", err)
	}

	if header.ID == "" || header.Type == "" {
		return fmt.Errorf("failed to parse entity: id or type missing")
	}

	delete(contents, "id")
	delete(contents, "type")

	e.ID = header.ID
	e.Type = header.Type
	e.Attributes = make(map[string]Attribute, len(contents))

	for name, raw := range contents {
		var a Attribute
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("failed to unmarshal attribute %s of entity %s: %w", name, e.ID, err)
		}
		e.Attributes[name] = a
	}

	return nil
}
