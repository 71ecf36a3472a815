package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntity_NewerThan(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := &Entity{UpdatedAt: base.Add(time.Second), LastModifiedBy: "phone"}
	b := &Entity{UpdatedAt: base, LastModifiedBy: "laptop"}
	assert.True(t, a.NewerThan(b))
	assert.False(t, b.NewerThan(a))

	// Equal timestamps break ties on actor id, both directions.
	c := &Entity{UpdatedAt: base, LastModifiedBy: "phone"}
	d := &Entity{UpdatedAt: base, LastModifiedBy: "laptop"}
	assert.True(t, c.NewerThan(d))
	assert.False(t, d.NewerThan(c))

	// A record is never newer than itself.
	assert.False(t, c.NewerThan(c))
}

func TestEntity_CloneIsDeep(t *testing.T) {
	e := &Entity{
		ID:   "task-1",
		Type: EntityTypeTask,
		Fields: map[string]any{
			"title":     "groceries",
			"assignees": []any{"mira", "theo"},
			"meta":      map[string]any{"priority": float64(2)},
		},
		Version: 3,
		Base: &BaseSnapshot{
			Version: 2,
			Fields:  map[string]any{"title": "groceries"},
		},
	}

	c := e.Clone()
	c.Fields["title"] = "changed"
	c.Fields["assignees"].([]any)[0] = "nobody"
	c.Fields["meta"].(map[string]any)["priority"] = float64(9)
	c.Base.Fields["title"] = "changed"

	assert.Equal(t, "groceries", e.Fields["title"])
	assert.Equal(t, "mira", e.Fields["assignees"].([]any)[0])
	assert.Equal(t, float64(2), e.Fields["meta"].(map[string]any)["priority"])
	assert.Equal(t, "groceries", e.Base.Fields["title"])
}

func TestFieldsEqual(t *testing.T) {
	a := map[string]any{"title": "x", "tags": []any{"a"}}
	b := map[string]any{"title": "x", "tags": []any{"a"}}
	assert.True(t, FieldsEqual(a, b))

	b["tags"] = []any{"b"}
	assert.False(t, FieldsEqual(a, b))

	assert.False(t, FieldsEqual(a, map[string]any{"title": "x"}))
	assert.True(t, FieldsEqual(nil, nil))
	assert.True(t, FieldsEqual(nil, map[string]any{}))
}

func TestFieldNames_SortedUnion(t *testing.T) {
	names := FieldNames(
		map[string]any{"title": 1, "notes": 1},
		map[string]any{"title": 1, "status": 1},
		nil,
	)
	assert.Equal(t, []string{"notes", "status", "title"}, names)
}
