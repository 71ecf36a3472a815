package api

import "time"

// Entity is the wire representation of a synchronized record.
// Type-specific fields travel as an opaque JSON object in Fields;
// the sync core only interprets the envelope.
type Entity struct {
	UpdatedAt      time.Time      `json:"updatedAt"`
	Fields         map[string]any `json:"fields"`
	ID             string         `json:"id"`
	EntityType     string         `json:"entityType"`
	LastModifiedBy string         `json:"lastModifiedBy"`
	Version        int64          `json:"version"`
	IsDeleted      bool           `json:"isDeleted"`
}

// PullResponse is returned by GET /sync?type=<entityType>&since=<cursor>.
// Cursor is an opaque monotonic position in the server's change stream;
// clients must persist it and echo it back on the next pull.
type PullResponse struct {
	Cursor  string   `json:"cursor"`
	Records []Entity `json:"records"`
}

// OperationKind identifies the intent of a pushed operation.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// PushOperation is one queued local mutation transmitted to the server.
// ClientVersion is the version the client last saw confirmed for this
// record; the server uses it to detect stale writes.
type PushOperation struct {
	Payload       Entity        `json:"payload"`
	EntityType    string        `json:"entityType"`
	EntityID      string        `json:"entityId"`
	OperationKind OperationKind `json:"operationKind"`
	ClientVersion int64         `json:"clientVersion"`
}

// PushRequest is the body of POST /sync/batch.
type PushRequest struct {
	Operations []PushOperation `json:"operations"`
}

// Outcome is the server's verdict on a single pushed operation.
type Outcome string

const (
	// OutcomeApplied means the server accepted the operation as-is.
	OutcomeApplied Outcome = "applied"
	// OutcomeConflict means the server holds a newer version; the
	// authoritative record is attached for local re-resolution.
	OutcomeConflict Outcome = "conflict"
	// OutcomeRejected means the operation is permanently invalid and
	// must not be retried.
	OutcomeRejected Outcome = "rejected"
)

// PushResult is the per-operation element of a PushResponse.
type PushResult struct {
	ServerRecord  *Entity `json:"serverRecord,omitempty"`
	EntityID      string  `json:"entityId"`
	Outcome       Outcome `json:"outcome"`
	Reason        string  `json:"reason,omitempty"`
	ServerVersion int64   `json:"serverVersion,omitempty"`
}

// PushResponse is returned by POST /sync/batch. Results are keyed by
// EntityID; at most one operation per entity may appear in a batch.
type PushResponse struct {
	Results []PushResult `json:"results"`
}
