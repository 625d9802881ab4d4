// Package reconcile implements the update reconciliation engine: it turns
// raw sensor readings into entities and a deduplicated, time ordered log of
// genuinely new attribute updates.
package reconcile

import (
	"sort"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

// UpdateKey identifies an attribute's change history.
type UpdateKey struct {
	EntityID   string
	EntityType string
	Attribute  string
}

// Less orders keys by (entity type, entity id, attribute), the tie break
// order used when sorting records with equal timestamps.
func (k UpdateKey) Less(other UpdateKey) bool {
	if k.EntityType != other.EntityType {
		return k.EntityType < other.EntityType
	}
	if k.EntityID != other.EntityID {
		return k.EntityID < other.EntityID
	}
	return k.Attribute < other.Attribute
}

// Record is one atomic proposed attribute change.
type Record struct {
	Key       UpdateKey
	Type      types.AttributeType
	Value     types.Value
	Timestamp int64
}

func (r Record) Equal(other Record) bool {
	if r.Key != other.Key || r.Type != other.Type || r.Timestamp != other.Timestamp {
		return false
	}
	if r.Value == nil || other.Value == nil {
		return r.Value == other.Value
	}
	return r.Value.Equal(other.Value)
}

func (r Record) less(other Record) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp < other.Timestamp
	}
	return r.Key.Less(other.Key)
}

// Attribute returns the attribute this record would write: the typed value
// stamped with the record's timestamp.
func (r Record) Attribute() types.Attribute {
	value := r.Value
	if value != nil {
		value = value.Clone()
	}
	return types.NewAttribute(r.Type, value, types.Timestamp(r.Timestamp))
}

// Log is the pending update log, keyed by update key. Within one key the
// records are kept sorted by timestamp and no two records share an identical
// (timestamp, value) pair.
type Log map[UpdateKey][]Record

func (l Log) add(r Record) {
	records := append(l[r.Key], r)
	sort.SliceStable(records, func(i, j int) bool { return records[i].less(records[j]) })
	l[r.Key] = records
}

// Size returns the total number of pending records.
func (l Log) Size() int {
	size := 0
	for _, records := range l {
		size += len(records)
	}
	return size
}

// LatestTimestamp returns the newest record timestamp in the log.
func (l Log) LatestTimestamp() (int64, bool) {
	var latest int64
	found := false

	for _, records := range l {
		if len(records) == 0 {
			continue
		}
		if ts := records[len(records)-1].Timestamp; !found || ts > latest {
			latest = ts
			found = true
		}
	}

	return latest, found
}

// Keys returns the update keys in deterministic order.
func (l Log) Keys() []UpdateKey {
	keys := make([]UpdateKey, 0, len(l))
	for key := range l {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func (l Log) Clone() Log {
	clone := make(Log, len(l))
	for key, records := range l {
		cloned := make([]Record, 0, len(records))
		for _, r := range records {
			if r.Value != nil {
				r.Value = r.Value.Clone()
			}
			cloned = append(cloned, r)
		}
		clone[key] = cloned
	}
	return clone
}

// TimestampPolicy names the per-source acceptance rule for readings whose
// value or timestamp matches the last known one.
type TimestampPolicy int

const (
	// StrictlyNewer accepts only changed values with a strictly newer timestamp.
	StrictlyNewer TimestampPolicy = iota
	// AllowEqualValue additionally accepts an unchanged value when its
	// timestamp is strictly newer (sensor heartbeats).
	AllowEqualValue
	// AllowEqualTime additionally accepts a changed value at an unchanged
	// timestamp (partial structured values merged later).
	AllowEqualTime
)

// State is the working set of one ingestion run: the entities seen so far in
// first seen order, and the pending update log.
type State struct {
	Entities []*types.Entity
	Updates  Log

	index map[string]int
}

func NewState() *State {
	return &State{
		Entities: []*types.Entity{},
		Updates:  Log{},
		index:    map[string]int{},
	}
}

// Entity returns the entity with the given id from the working set.
func (s *State) Entity(entityID string) (*types.Entity, bool) {
	idx, ok := s.index[entityID]
	if !ok {
		return nil, false
	}
	return s.Entities[idx], true
}

func (s *State) addEntity(e *types.Entity) *types.Entity {
	s.index[e.ID] = len(s.Entities)
	s.Entities = append(s.Entities, e)
	return e
}

// Clone deep copies the state. Each loading pass works on its own copy so
// that states are never aliased across runs.
func (s *State) Clone() *State {
	clone := &State{
		Entities: make([]*types.Entity, 0, len(s.Entities)),
		Updates:  s.Updates.Clone(),
		index:    make(map[string]int, len(s.index)),
	}

	for _, e := range s.Entities {
		clone.addEntity(e.Clone())
	}

	return clone
}

// candidate is one attribute change proposed by a reading.
type candidate struct {
	name          string
	attributeType types.AttributeType
	value         types.Value
}

// propose runs the new-update decision for each candidate against the given
// entity and appends accepted records to the update log. The decision is
// made against a simulated current value: the most recent pending update
// for the key, if any, applied on top of the entity's baseline, so that
// readings within one batch compose without a remote re-read. skipValue
// marks a sentinel no-op value that is never accepted.
func (s *State) propose(e *types.Entity, candidates []candidate, timestamp int64, skipValue types.Value, policy TimestampPolicy) {
	simulated := e.Clone()

	for _, c := range candidates {
		key := UpdateKey{EntityID: e.ID, EntityType: e.Type, Attribute: c.name}

		pending, ok := s.Updates[key]
		if !ok {
			s.Updates[key] = []Record{}
		}

		if len(pending) > 0 {
			simulated.SetAttribute(c.name, pending[len(pending)-1].Attribute())
		}

		if c.value == nil {
			continue
		}
		if skipValue != nil && c.value.Equal(skipValue) {
			continue
		}

		if acceptUpdate(simulated, c.name, c.value, timestamp, policy) {
			s.Updates.add(Record{
				Key:       key,
				Type:      c.attributeType,
				Value:     c.value,
				Timestamp: timestamp,
			})
		}
	}
}

// acceptUpdate decides whether value is a genuinely new update for the
// named attribute of the given entity.
func acceptUpdate(e *types.Entity, attributeName string, value types.Value, timestamp int64, policy TimestampPolicy) bool {
	current, ok := e.Attribute(attributeName)
	if !ok {
		return false
	}

	if current.Value == nil {
		// an attribute created without a value accepts its first one
		return true
	}

	valueChanged := !current.Value.Equal(value)

	if valueChanged {
		if current.Type == types.TypeDateTime {
			// a DateTime attribute advances only chronologically
			currentTime, isTime := current.Value.(types.DateTime)
			newTime, newIsTime := value.(types.DateTime)
			return !isTime || (newIsTime && currentTime < newTime)
		}

		lastTimestamp, hasTimestamp := current.ObservedMillis()
		if !hasTimestamp || lastTimestamp < timestamp {
			return true
		}
		return policy == AllowEqualTime && lastTimestamp == timestamp
	}

	if policy == AllowEqualValue {
		lastTimestamp, hasTimestamp := current.ObservedMillis()
		return hasTimestamp && lastTimestamp < timestamp
	}

	return false
}
