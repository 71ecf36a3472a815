package models

import "time"

// OperationKind identifies the intent of a queued sync operation.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// SyncOperation is one entry in the sync queue: a local mutation awaiting
// transmission. Operations are never mutated in place; failed attempts
// are rewritten under the same sequence number with a bumped attempt
// count and deferred schedule.
type SyncOperation struct {
	EnqueuedAt    time.Time     `json:"enqueued_at"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	Payload       *Entity       `json:"payload"` // full snapshot at enqueue time
	EntityType    string        `json:"entity_type"`
	EntityID      string        `json:"entity_id"`
	Kind          OperationKind `json:"kind"`
	LastError     string        `json:"last_error,omitempty"`
	Seq           uint64        `json:"seq"`
	AttemptCount  int           `json:"attempt_count"`
}

// Due reports whether the operation is eligible for transmission at now.
func (op *SyncOperation) Due(now time.Time) bool {
	return !op.NextAttemptAt.After(now)
}

// PushOutcomeKind is the server's verdict on one pushed operation.
type PushOutcomeKind string

const (
	PushApplied  PushOutcomeKind = "applied"
	PushConflict PushOutcomeKind = "conflict"
	PushRejected PushOutcomeKind = "rejected"
)

// PushOutcome is the transport-level result for a single operation.
type PushOutcome struct {
	ServerRecord  *Entity
	EntityID      string
	Outcome       PushOutcomeKind
	Reason        string
	ServerVersion int64
}
