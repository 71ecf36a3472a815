package store

import "errors"

// Common local store errors
var (
	// ErrNotFound indicates that no record exists for the given type and id
	ErrNotFound = errors.New("entity not found")

	// ErrStorageClosed indicates that the store is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrStaleWrite indicates a remote-origin write whose version is older
	// than the version already persisted for the record
	ErrStaleWrite = errors.New("stale write: persisted version is newer")

	// ErrNoCursor indicates that no cursor has been persisted for the type
	ErrNoCursor = errors.New("no cursor persisted")
)
