package store

import (
	"context"
	"time"

	"github.com/iudanet/hearthsync/internal/models"
)

//go:generate moq -out store_mock.go . Store

// Store is the durable local record store. It is the source of truth for
// all reads; every component reads through it and only the sync engine
// may overwrite records with resolved results.
type Store interface {
	// Get retrieves an entity by type and id.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, entityType, id string) (*models.Entity, error)

	// Put persists an entity. Writes are atomic per record.
	//
	// With OriginLocal the store owns the bookkeeping of optimistic
	// mutations: the version is bumped past the persisted one, the
	// record is marked dirty, and a base snapshot of the last clean
	// state is captured for conflict resolution. The normalized record
	// as persisted is returned.
	//
	// With OriginRemote the entity is written verbatim (the engine has
	// already computed version, dirty flag and base). A remote write
	// below a clean record's version fails with ErrStaleWrite; dirty
	// records carry provisional local versions that a push confirmation
	// may lower.
	Put(ctx context.Context, e *models.Entity, origin models.ChangeOrigin) (*models.Entity, error)

	// Delete tombstones a record: a Put with IsDeleted=true. The row is
	// retained so the deletion propagates. Returns the tombstone.
	Delete(ctx context.Context, entityType, id, actor string) (*models.Entity, error)

	// Query returns all live entities of a type matching the predicate.
	// The predicate must be a pure function over entity fields.
	Query(ctx context.Context, entityType string, pred func(*models.Entity) bool) ([]*models.Entity, error)

	// QueryTimeRange returns live entities whose indexed time field
	// falls in [from, to). Serving a type without a declared index
	// field is an error.
	QueryTimeRange(ctx context.Context, entityType string, from, to time.Time) ([]*models.Entity, error)

	// Dirty returns every record with unconfirmed local changes, across
	// all types. Used to rebuild the sync queue after corruption.
	Dirty(ctx context.Context) ([]*models.Entity, error)

	// Compact physically purges tombstones of the given type deleted
	// before the cutoff. Not part of normal flow.
	Compact(ctx context.Context, entityType string, olderThan time.Time) (int, error)

	// Events returns the change bus fed by every committed write.
	Events() *Bus

	// Close releases the underlying database.
	Close() error
}

//go:generate moq -out cursors_mock.go . CursorStore

// CursorStore persists the per-type pull cursor. Only the sync engine
// may advance cursors.
type CursorStore interface {
	// GetCursor returns the persisted cursor for the type, or "" with
	// ErrNoCursor when the type has never completed a pull.
	GetCursor(ctx context.Context, entityType string) (string, error)

	// SaveCursor durably replaces the cursor for the type.
	SaveCursor(ctx context.Context, entityType, cursor string) error
}
