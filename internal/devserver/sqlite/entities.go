package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/hearthsync/pkg/api"
)

// ErrRecordNotFound indicates that no row exists for the type and id.
var ErrRecordNotFound = errors.New("record not found")

// GetRecord returns the current server state of one entity.
func (s *Storage) GetRecord(ctx context.Context, entityType, id string) (*api.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, version, updated_at, last_modified_by, deleted, fields
		FROM entities WHERE entity_type = ? AND id = ?`, entityType, id)
	return scanEntity(row)
}

// ChangesSince returns all records of the type changed after the cursor
// position, in change order, together with the new cursor position.
func (s *Storage) ChangesSince(ctx context.Context, entityType string, since int64) ([]api.Entity, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, version, updated_at, last_modified_by, deleted, fields, change_seq
		FROM entities
		WHERE entity_type = ? AND change_seq > ?
		ORDER BY change_seq ASC`, entityType, since)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []api.Entity
	cursor := since
	for rows.Next() {
		var (
			e         api.Entity
			updatedAt string
			deleted   int
			fields    string
			seq       int64
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.Version, &updatedAt,
			&e.LastModifiedBy, &deleted, &fields, &seq); err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		e.IsDeleted = deleted != 0
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
		if seq > cursor {
			cursor = seq
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate changes: %w", err)
	}
	return out, cursor, nil
}

// ApplyOperation validates one pushed operation against the current
// server state and applies it when the client's base version matches.
// A version mismatch yields a conflict outcome carrying the
// authoritative record for local re-resolution.
func (s *Storage) ApplyOperation(ctx context.Context, op api.PushOperation) (api.PushResult, error) {
	result := api.PushResult{EntityID: op.EntityID}

	if op.EntityID == "" || op.EntityType == "" {
		result.Outcome = api.OutcomeRejected
		result.Reason = "operation missing entity id or type"
		return result, nil
	}
	switch op.OperationKind {
	case api.OperationCreate, api.OperationUpdate, api.OperationDelete:
	default:
		result.Outcome = api.OutcomeRejected
		result.Reason = fmt.Sprintf("unknown operation kind %q", op.OperationKind)
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanEntity(tx.QueryRowContext(ctx, `
		SELECT id, entity_type, version, updated_at, last_modified_by, deleted, fields
		FROM entities WHERE entity_type = ? AND id = ?`, op.EntityType, op.EntityID))
	exists := true
	if errors.Is(err, ErrRecordNotFound) {
		exists = false
	} else if err != nil {
		return result, err
	}

	switch {
	case op.OperationKind == api.OperationCreate && exists:
		// Another device created the record first.
		result.Outcome = api.OutcomeConflict
		result.ServerRecord = current
		return result, nil
	case op.OperationKind != api.OperationCreate && exists && op.ClientVersion != current.Version:
		// Stale base: the client edited on top of a superseded version.
		result.Outcome = api.OutcomeConflict
		result.ServerRecord = current
		return result, nil
	case op.OperationKind == api.OperationDelete && !exists:
		// Deleting the unknown is idempotent from the client's view,
		// but the tombstone still has to exist so it propagates.
	case op.OperationKind == api.OperationUpdate && !exists:
		result.Outcome = api.OutcomeRejected
		result.Reason = "update for unknown record"
		return result, nil
	}

	newVersion := int64(1)
	if exists {
		newVersion = current.Version + 1
	}

	seq, err := nextChangeSeq(ctx, tx)
	if err != nil {
		return result, err
	}

	fields, err := json.Marshal(op.Payload.Fields)
	if err != nil {
		return result, fmt.Errorf("failed to marshal fields: %w", err)
	}
	deleted := 0
	if op.OperationKind == api.OperationDelete || op.Payload.IsDeleted {
		deleted = 1
	}
	updatedAt := op.Payload.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, version, updated_at, last_modified_by, deleted, fields, change_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at,
			last_modified_by = excluded.last_modified_by,
			deleted = excluded.deleted,
			fields = excluded.fields,
			change_seq = excluded.change_seq`,
		op.EntityType, op.EntityID, newVersion,
		updatedAt.UTC().Format(time.RFC3339Nano),
		op.Payload.LastModifiedBy, deleted, string(fields), seq)
	if err != nil {
		return result, fmt.Errorf("failed to upsert entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit: %w", err)
	}

	result.Outcome = api.OutcomeApplied
	result.ServerVersion = newVersion
	return result, nil
}

func nextChangeSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE change_counter SET next = next + 1 WHERE id = 1 RETURNING next - 1`,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate change seq: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*api.Entity, error) {
	var (
		e         api.Entity
		updatedAt string
		deleted   int
		fields    string
	)
	err := row.Scan(&e.ID, &e.EntityType, &e.Version, &updatedAt,
		&e.LastModifiedBy, &deleted, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	e.IsDeleted = deleted != 0
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &e, nil
}
