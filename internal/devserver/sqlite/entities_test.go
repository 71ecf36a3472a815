package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/hearthsync/pkg/api"
)

func createTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "devserver_test.db")

	s, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func createOp(id string, fields map[string]any) api.PushOperation {
	return api.PushOperation{
		EntityType:    "task",
		EntityID:      id,
		OperationKind: api.OperationCreate,
		Payload: api.Entity{
			ID: id, EntityType: "task",
			UpdatedAt:      time.Now(),
			LastModifiedBy: "device-a",
			Fields:         fields,
		},
	}
}

func TestStorage_ApplyCreate(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	result, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "dishes"}))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, result.Outcome)
	assert.Equal(t, int64(1), result.ServerVersion)

	record, err := s.GetRecord(ctx, "task", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "dishes", record.Fields["title"])
	assert.Equal(t, int64(1), record.Version)
	assert.False(t, record.IsDeleted)
}

func TestStorage_CreateConflictWhenExists(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "first"}))
	require.NoError(t, err)

	result, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "second"}))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeConflict, result.Outcome)
	require.NotNil(t, result.ServerRecord)
	assert.Equal(t, "first", result.ServerRecord.Fields["title"])

	// The losing create changed nothing.
	record, err := s.GetRecord(ctx, "task", "task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Version)
}

func TestStorage_UpdateVersionGate(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "v1"}))
	require.NoError(t, err)

	update := api.PushOperation{
		EntityType: "task", EntityID: "task-1",
		OperationKind: api.OperationUpdate,
		ClientVersion: 1,
		Payload: api.Entity{
			ID: "task-1", EntityType: "task",
			UpdatedAt: time.Now(), LastModifiedBy: "device-a",
			Fields: map[string]any{"title": "v2"},
		},
	}
	result, err := s.ApplyOperation(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, result.Outcome)
	assert.Equal(t, int64(2), result.ServerVersion)

	// The same base again is stale now.
	stale := update
	stale.Payload.Fields = map[string]any{"title": "from old base"}
	result, err = s.ApplyOperation(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeConflict, result.Outcome)
	require.NotNil(t, result.ServerRecord)
	assert.Equal(t, int64(2), result.ServerRecord.Version)
	assert.Equal(t, "v2", result.ServerRecord.Fields["title"])
}

func TestStorage_UpdateUnknownRejected(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	result, err := s.ApplyOperation(ctx, api.PushOperation{
		EntityType: "task", EntityID: "ghost",
		OperationKind: api.OperationUpdate,
		Payload:       api.Entity{ID: "ghost", EntityType: "task", Fields: map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeRejected, result.Outcome)
	assert.NotEmpty(t, result.Reason)
}

func TestStorage_DeleteWritesTombstone(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "doomed"}))
	require.NoError(t, err)

	result, err := s.ApplyOperation(ctx, api.PushOperation{
		EntityType: "task", EntityID: "task-1",
		OperationKind: api.OperationDelete,
		ClientVersion: 1,
		Payload: api.Entity{
			ID: "task-1", EntityType: "task",
			UpdatedAt: time.Now(), LastModifiedBy: "device-a",
			Fields: map[string]any{},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, result.Outcome)
	assert.Equal(t, int64(2), result.ServerVersion)

	record, err := s.GetRecord(ctx, "task", "task-1")
	require.NoError(t, err)
	assert.True(t, record.IsDeleted)

	// The tombstone appears in the change feed so other devices learn
	// about the deletion.
	changes, _, err := s.ChangesSince(ctx, "task", 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].IsDeleted)
}

func TestStorage_DeleteUnknownStillTombstones(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	result, err := s.ApplyOperation(ctx, api.PushOperation{
		EntityType: "task", EntityID: "never-seen",
		OperationKind: api.OperationDelete,
		Payload: api.Entity{
			ID: "never-seen", EntityType: "task",
			UpdatedAt: time.Now(), Fields: map[string]any{},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, result.Outcome)

	record, err := s.GetRecord(ctx, "task", "never-seen")
	require.NoError(t, err)
	assert.True(t, record.IsDeleted)
}

func TestStorage_MissingIDRejected(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	result, err := s.ApplyOperation(ctx, api.PushOperation{
		EntityType:    "task",
		OperationKind: api.OperationCreate,
		Payload:       api.Entity{EntityType: "task", Fields: map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeRejected, result.Outcome)
}

func TestStorage_ChangesSinceCursor(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.ApplyOperation(ctx, createOp(id, map[string]any{"title": id}))
		require.NoError(t, err)
	}

	all, cursor, err := s.ChangesSince(ctx, "task", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)

	// The cursor is exclusive: nothing new means nothing returned and
	// the same cursor handed back.
	empty, sameCursor, err := s.ChangesSince(ctx, "task", cursor)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, cursor, sameCursor)

	// A later change advances the cursor past the old position.
	_, err = s.ApplyOperation(ctx, createOp("d", map[string]any{"title": "d"}))
	require.NoError(t, err)
	fresh, newCursor, err := s.ChangesSince(ctx, "task", cursor)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "d", fresh[0].ID)
	assert.Greater(t, newCursor, cursor)
}

func TestStorage_ChangesSinceFiltersByType(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "a task"}))
	require.NoError(t, err)

	event := createOp("ev-1", map[string]any{"title": "an event"})
	event.EntityType = "event"
	event.Payload.EntityType = "event"
	_, err = s.ApplyOperation(ctx, event)
	require.NoError(t, err)

	tasks, _, err := s.ChangesSince(ctx, "task", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task-1", tasks[0].ID)

	events, _, err := s.ChangesSince(ctx, "event", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)
}

func TestStorage_CoalescedEditsKeepLatest(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := s.ApplyOperation(ctx, createOp("task-1", map[string]any{"title": "v1"}))
	require.NoError(t, err)
	_, err = s.ApplyOperation(ctx, api.PushOperation{
		EntityType: "task", EntityID: "task-1",
		OperationKind: api.OperationUpdate, ClientVersion: 1,
		Payload: api.Entity{
			ID: "task-1", EntityType: "task",
			UpdatedAt: time.Now(), Fields: map[string]any{"title": "v2"},
		},
	})
	require.NoError(t, err)

	// One row per record: the change feed serves current state, not
	// history.
	changes, _, err := s.ChangesSince(ctx, "task", 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "v2", changes[0].Fields["title"])
	assert.Equal(t, int64(2), changes[0].Version)
}
