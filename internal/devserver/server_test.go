package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/iudanet/hearthsync/internal/api"
	"github.com/iudanet/hearthsync/internal/devserver/sqlite"
	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/pkg/api"
)

func createTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	storage, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "server_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, storage.Close()) })

	srv := New(storage, nil)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_PushThenPull(t *testing.T) {
	ctx := context.Background()
	ts := createTestServer(t)
	client := transport.NewClient(ts.URL)

	ops := []*models.SyncOperation{{
		EntityType: "task", EntityID: "task-1", Kind: models.OpCreate,
		Payload: &models.Entity{
			ID: "task-1", Type: "task",
			Fields:         map[string]any{"title": "dishes"},
			UpdatedAt:      time.Now(),
			LastModifiedBy: "device-a",
		},
	}}

	outcomes, err := client.Push(ctx, ops)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, models.PushApplied, outcomes[0].Outcome)
	assert.Equal(t, int64(1), outcomes[0].ServerVersion)

	cursor, records, err := client.Pull(ctx, "task", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "task-1", records[0].ID)
	assert.Equal(t, "dishes", records[0].Fields["title"])
	assert.NotEmpty(t, cursor)

	// Pulling from the advanced cursor yields nothing new.
	_, records, err = client.Pull(ctx, "task", cursor)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestServer_PushConflictCarriesServerRecord(t *testing.T) {
	ctx := context.Background()
	ts := createTestServer(t)
	client := transport.NewClient(ts.URL)

	mkOp := func(actor, title string) []*models.SyncOperation {
		return []*models.SyncOperation{{
			EntityType: "task", EntityID: "task-1", Kind: models.OpCreate,
			Payload: &models.Entity{
				ID: "task-1", Type: "task",
				Fields:         map[string]any{"title": title},
				UpdatedAt:      time.Now(),
				LastModifiedBy: actor,
			},
		}}
	}

	outcomes, err := client.Push(ctx, mkOp("device-a", "first"))
	require.NoError(t, err)
	assert.Equal(t, models.PushApplied, outcomes[0].Outcome)

	outcomes, err = client.Push(ctx, mkOp("device-b", "second"))
	require.NoError(t, err)
	assert.Equal(t, models.PushConflict, outcomes[0].Outcome)
	require.NotNil(t, outcomes[0].ServerRecord)
	assert.Equal(t, "first", outcomes[0].ServerRecord.Fields["title"])
}

func TestServer_PullRequiresType(t *testing.T) {
	ts := createTestServer(t)

	resp, err := http.Get(ts.URL + "/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Contains(t, errResp.Message, "type")
}

func TestServer_PullRejectsBadCursor(t *testing.T) {
	ts := createTestServer(t)

	resp, err := http.Get(ts.URL + "/sync?type=task&since=not-a-number")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RealtimeBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts := createTestServer(t)

	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsBase+"/realtime?types=task", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register the subscriber.
	time.Sleep(100 * time.Millisecond)

	client := transport.NewClient(ts.URL)
	_, err = client.Push(ctx, []*models.SyncOperation{{
		EntityType: "task", EntityID: "task-1", Kind: models.OpCreate,
		Payload: &models.Entity{
			ID: "task-1", Type: "task",
			Fields:         map[string]any{"title": "broadcasted"},
			UpdatedAt:      time.Now(),
			LastModifiedBy: "device-a",
		},
	}})
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg api.ChangeMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, api.ChangeInsert, msg.Type)
	assert.Equal(t, "task", msg.EntityType)
	assert.Equal(t, "task-1", msg.Data.ID)
	assert.Equal(t, "broadcasted", msg.Data.Fields["title"])
}

func TestServer_RealtimeFiltersTypes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts := createTestServer(t)

	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsBase+"/realtime?types=event", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	time.Sleep(100 * time.Millisecond)

	client := transport.NewClient(ts.URL)
	push := func(entityType, id string) {
		_, err := client.Push(ctx, []*models.SyncOperation{{
			EntityType: entityType, EntityID: id, Kind: models.OpCreate,
			Payload: &models.Entity{
				ID: id, Type: entityType,
				Fields:    map[string]any{"title": id},
				UpdatedAt: time.Now(),
			},
		}})
		require.NoError(t, err)
	}
	push("task", "task-1")
	push("event", "ev-1")

	// Only the event reaches the subscriber.
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg api.ChangeMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "event", msg.EntityType)
	assert.Equal(t, "ev-1", msg.Data.ID)
}
