// Package queue defines the durable sync queue: an ordered log of
// pending local mutations awaiting transmission. The queue records
// intent only; it is a derived cache that can always be rebuilt from the
// dirty records in the local store.
package queue

import (
	"context"
	"errors"

	"github.com/iudanet/hearthsync/internal/models"
)

// Common queue errors
var (
	// ErrCorrupt indicates unreadable persisted queue state; the caller
	// should rebuild the queue from dirty store records
	ErrCorrupt = errors.New("queue state is corrupt")

	// ErrOpNotFound indicates that no pending operation exists for the seq
	ErrOpNotFound = errors.New("operation not found")

	// ErrClosed indicates that the queue is closed
	ErrClosed = errors.New("queue is closed")
)

//go:generate moq -out queue_mock.go . Queue

// Queue is the durable FIFO log of pending sync operations. Entries
// leave the queue only through Ack (server accepted or permanently
// rejected the operation) or through dead-lettering.
type Queue interface {
	// Enqueue appends an operation. A pending operation for the same
	// entity is coalesced into the new one: only the latest intent per
	// entity is transmitted. A delete supersedes any pending create or
	// update; a delete over a pending create cancels both, since the
	// server never saw the record.
	Enqueue(ctx context.Context, op *models.SyncOperation) error

	// PeekBatch returns up to max operations due for transmission, in
	// enqueue order. Returns ErrCorrupt when persisted state cannot be
	// decoded.
	PeekBatch(ctx context.Context, max int) ([]*models.SyncOperation, error)

	// Ack durably removes acknowledged operations.
	Ack(ctx context.Context, seqs []uint64) error

	// Reschedule defers an operation after a failed attempt using
	// exponential backoff. Past the attempt cap the operation moves to
	// the dead-letter set so it cannot block the queue.
	Reschedule(ctx context.Context, seq uint64, reason string) error

	// DeadLetters returns permanently failed operations for inspection.
	DeadLetters(ctx context.Context) ([]*models.SyncOperation, error)

	// Stats returns the number of pending and dead-lettered operations.
	Stats(ctx context.Context) (pending, dead int, err error)

	// Rebuild discards all pending operations and re-synthesizes them
	// from the given dirty records. Used after queue corruption.
	Rebuild(ctx context.Context, dirty []*models.Entity) (int, error)

	// Close releases the underlying database.
	Close() error
}

// OperationForEntity synthesizes the sync operation a dirty record
// implies: the queue rebuild path and the local mutation path both use
// it so intent derivation stays in one place.
func OperationForEntity(e *models.Entity) *models.SyncOperation {
	kind := models.OpUpdate
	switch {
	case e.IsDeleted:
		kind = models.OpDelete
	case e.Base == nil:
		// Never confirmed by the server, so the server must first
		// learn of the record's existence.
		kind = models.OpCreate
	}
	return &models.SyncOperation{
		EntityType: e.Type,
		EntityID:   e.ID,
		Kind:       kind,
		Payload:    e.Clone(),
	}
}
