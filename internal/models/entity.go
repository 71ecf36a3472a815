package models

import (
	"reflect"
	"sort"
	"time"
)

// Built-in entity types. Hosts may register additional types; the sync
// core treats the type as an opaque namespace.
const (
	EntityTypeTask  = "task"
	EntityTypeEvent = "event"
)

// BaseSnapshot captures the last server-confirmed state of a record.
// It is set when a clean record first becomes dirty and is the common
// ancestor used for disjoint-field conflict resolution.
type BaseSnapshot struct {
	Fields  map[string]any `json:"fields"`
	Version int64          `json:"version"`
}

// Entity is a versioned, synchronized record. Type-specific fields are
// opaque to the sync core and live in Fields; only field names declared
// in a type's resolution policy get special merge treatment.
type Entity struct {
	UpdatedAt      time.Time      `json:"updated_at"` // tie-break only, never primary ordering
	Fields         map[string]any `json:"fields"`
	Base           *BaseSnapshot  `json:"base,omitempty"` // present only while dirty
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	LastModifiedBy string         `json:"last_modified_by"`
	Version        int64          `json:"version"`
	IsDirty        bool           `json:"is_dirty"`
	IsDeleted      bool           `json:"is_deleted"`
}

// NewerThan reports whether e is a more recent write than other.
// UpdatedAt is compared first; ties break on LastModifiedBy
// lexicographically so every device resolves the same way.
func (e *Entity) NewerThan(other *Entity) bool {
	if e.UpdatedAt.After(other.UpdatedAt) {
		return true
	}
	if e.UpdatedAt.Before(other.UpdatedAt) {
		return false
	}
	return e.LastModifiedBy > other.LastModifiedBy
}

// Clone creates a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Fields = CloneFields(e.Fields)
	if e.Base != nil {
		c.Base = &BaseSnapshot{
			Version: e.Base.Version,
			Fields:  CloneFields(e.Base.Fields),
		}
	}
	return &c
}

// CloneFields deep-copies a payload field map. Values are expected to be
// JSON-shaped (nil, bool, float64, string, []any, map[string]any).
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// FieldsEqual reports whether two payload field maps hold the same values.
func FieldsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ValueEqual(av, bv) {
			return false
		}
	}
	return true
}

// ValueEqual compares two JSON-shaped field values.
func ValueEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// FieldNames returns the sorted union of field names across the given
// maps. Sorted iteration keeps conflict resolution deterministic.
func FieldNames(maps ...map[string]any) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
