package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/queue"
	"github.com/iudanet/hearthsync/internal/store"
)

// SyncNow runs one full pull-then-push cycle and blocks until it
// completes. Cycles are single-flight: a concurrent caller waits for the
// active cycle to finish before starting its own.
func (e *Engine) SyncNow(ctx context.Context) (*Report, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	report := &Report{}

	if err := e.pullPhase(ctx, report); err != nil {
		e.setState(StateError)
		return report, err
	}
	if err := e.pushPhase(ctx, report); err != nil {
		e.setState(StateError)
		return report, err
	}

	e.setState(StateIdle)
	return report, nil
}

// pullPhase pulls remote deltas per entity type and reconciles them into
// the local store. The cursor for a type advances only after its whole
// batch applied, so a crash mid-batch re-delivers the batch and the
// idempotent apply absorbs the duplicates.
func (e *Engine) pullPhase(ctx context.Context, report *Report) error {
	for _, entityType := range e.cfg.EntityTypes {
		e.setState(StatePulling)

		cursor, err := e.cfg.Cursors.GetCursor(ctx, entityType)
		if err != nil && !errors.Is(err, store.ErrNoCursor) {
			return fmt.Errorf("failed to load cursor for %s: %w", entityType, err)
		}

		newCursor, records, err := e.cfg.Transport.Pull(ctx, entityType, cursor)
		if err != nil {
			return fmt.Errorf("pull failed for %s: %w", entityType, err)
		}
		report.Pulled += len(records)

		e.setState(StateResolving)
		for _, remote := range records {
			if err := e.applyRemoteRecord(ctx, remote, report); err != nil {
				// Abort without advancing the cursor; the batch is
				// re-delivered on the next cycle.
				return fmt.Errorf("apply failed for %s/%s: %w", entityType, remote.ID, err)
			}
		}

		if newCursor != "" && newCursor != cursor {
			if err := e.cfg.Cursors.SaveCursor(ctx, entityType, newCursor); err != nil {
				return fmt.Errorf("failed to save cursor for %s: %w", entityType, err)
			}
		}
	}
	return nil
}

// applyRemoteRecord reconciles one remote record with local state. Apply
// is idempotent keyed by id+version; records already seen are skipped.
func (e *Engine) applyRemoteRecord(ctx context.Context, remote *models.Entity, report *Report) error {
	local, err := e.cfg.Store.Get(ctx, remote.Type, remote.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Remote-origin create: apply directly, no local counterpart
		// to conflict with.
		clean := remote.Clone()
		clean.IsDirty = false
		clean.Base = nil
		if _, err := e.cfg.Store.Put(ctx, clean, models.OriginRemote); err != nil {
			return err
		}
		report.Applied++
		return nil
	}
	if err != nil {
		return err
	}

	if !local.IsDirty {
		if remote.Version <= local.Version {
			report.Skipped++
			return nil
		}
		clean := remote.Clone()
		clean.IsDirty = false
		clean.Base = nil
		if _, err := e.cfg.Store.Put(ctx, clean, models.OriginRemote); err != nil {
			return err
		}
		report.Applied++
		return nil
	}

	// Dirty local record. Anything at or below the base version was
	// already folded into the local state.
	if local.Base != nil && remote.Version <= local.Base.Version {
		report.Skipped++
		return nil
	}

	merged, conflictReport, err := e.cfg.Resolver.Resolve(local, remote)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}
	if _, err := e.cfg.Store.Put(ctx, merged, models.OriginRemote); err != nil {
		return err
	}
	report.Merged++

	if merged.IsDirty {
		// Local changes survived the merge; the server still needs
		// to hear about them.
		if err := e.cfg.Queue.Enqueue(ctx, queue.OperationForEntity(merged)); err != nil {
			return fmt.Errorf("failed to re-enqueue merged record: %w", err)
		}
	}

	e.recordConflict(conflictReport, report)
	return nil
}

// pushPhase drains up to one batch of due operations and interprets the
// per-operation server verdicts.
func (e *Engine) pushPhase(ctx context.Context, report *Report) error {
	e.setState(StatePushing)

	batch, err := e.cfg.Queue.PeekBatch(ctx, e.cfg.PushBatchSize)
	if errors.Is(err, queue.ErrCorrupt) {
		batch, err = e.rebuildQueue(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	outcomes, err := e.cfg.Transport.Push(ctx, batch)
	if err != nil {
		// Transient transport failure: nothing was acked, defer the
		// whole batch and abort the cycle.
		for _, op := range batch {
			if rerr := e.cfg.Queue.Reschedule(ctx, op.Seq, err.Error()); rerr != nil {
				e.logger.Warn("failed to reschedule operation",
					"seq", op.Seq, "error", rerr)
			}
			report.Deferred++
		}
		return fmt.Errorf("push failed: %w", err)
	}
	report.Pushed += len(batch)

	byEntity := make(map[string]models.PushOutcome, len(outcomes))
	for _, out := range outcomes {
		byEntity[out.EntityID] = out
	}

	for _, op := range batch {
		out, ok := byEntity[op.EntityID]
		if !ok {
			// The server did not answer for this operation; treat it
			// like a transient failure.
			if err := e.cfg.Queue.Reschedule(ctx, op.Seq, "no outcome in push response"); err != nil {
				return err
			}
			report.Deferred++
			continue
		}
		if err := e.handleOutcome(ctx, op, out, report); err != nil {
			return err
		}
	}
	return nil
}

// handleOutcome applies one server verdict to the store and queue.
func (e *Engine) handleOutcome(ctx context.Context, op *models.SyncOperation, out models.PushOutcome, report *Report) error {
	switch out.Outcome {
	case models.PushApplied:
		if err := e.confirmApplied(ctx, op, out); err != nil {
			return err
		}
		if err := e.cfg.Queue.Ack(ctx, []uint64{op.Seq}); err != nil {
			return err
		}
		e.echo.remember(op.EntityID, out.ServerVersion)
		report.Acked++
		return nil

	case models.PushConflict:
		if out.ServerRecord == nil {
			// A conflict without the authoritative record cannot be
			// resolved locally; try again later.
			if err := e.cfg.Queue.Reschedule(ctx, op.Seq, "conflict outcome without server record"); err != nil {
				return err
			}
			report.Deferred++
			return nil
		}
		if err := e.resolvePushConflict(ctx, op, out.ServerRecord, report); err != nil {
			return err
		}
		return e.cfg.Queue.Ack(ctx, []uint64{op.Seq})

	case models.PushRejected:
		// Permanently invalid: drop the operation, never retry,
		// surface to the originating caller.
		if err := e.cfg.Queue.Ack(ctx, []uint64{op.Seq}); err != nil {
			return err
		}
		report.Rejected++
		rejErr := &RejectedError{
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Reason:     out.Reason,
		}
		e.logger.Warn("operation rejected by server",
			"entity_type", op.EntityType, "entity_id", op.EntityID, "reason", out.Reason)
		if e.cfg.OnRejected != nil {
			e.cfg.OnRejected(rejErr)
		}
		return nil

	default:
		return fmt.Errorf("unknown push outcome %q", out.Outcome)
	}
}

// confirmApplied clears the dirty flag and adopts the server-assigned
// version, unless a newer local edit arrived while the batch was in
// flight, in which case the record stays dirty and only its base moves
// forward.
func (e *Engine) confirmApplied(ctx context.Context, op *models.SyncOperation, out models.PushOutcome) error {
	current, err := e.cfg.Store.Get(ctx, op.EntityType, op.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil // compacted away; nothing to confirm
	}
	if err != nil {
		return err
	}

	serverVersion := out.ServerVersion
	if serverVersion == 0 {
		serverVersion = op.Payload.Version
	}

	if current.Version != op.Payload.Version {
		// Mid-flight local edit: the queue already coalesced a newer
		// operation. Advance the base so the next push resolves
		// against the version the server just accepted.
		updated := current.Clone()
		updated.Base = &models.BaseSnapshot{
			Version: serverVersion,
			Fields:  models.CloneFields(op.Payload.Fields),
		}
		_, err := e.cfg.Store.Put(ctx, updated, models.OriginRemote)
		return err
	}

	confirmed := op.Payload.Clone()
	confirmed.Version = serverVersion
	confirmed.IsDirty = false
	confirmed.Base = nil
	_, err = e.cfg.Store.Put(ctx, confirmed, models.OriginRemote)
	return err
}

// resolvePushConflict re-runs the resolver against the authoritative
// server record and re-enqueues only if local changes survive the merge.
func (e *Engine) resolvePushConflict(ctx context.Context, op *models.SyncOperation, serverRecord *models.Entity, report *Report) error {
	local, err := e.cfg.Store.Get(ctx, op.EntityType, op.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		local = op.Payload
	} else if err != nil {
		return err
	}

	merged, conflictReport, err := e.cfg.Resolver.Resolve(local, serverRecord)
	if err != nil {
		return fmt.Errorf("push conflict resolution failed: %w", err)
	}
	if _, err := e.cfg.Store.Put(ctx, merged, models.OriginRemote); err != nil {
		return err
	}

	if merged.IsDirty {
		if err := e.cfg.Queue.Enqueue(ctx, queue.OperationForEntity(merged)); err != nil {
			return fmt.Errorf("failed to re-enqueue after conflict: %w", err)
		}
	}

	e.recordConflict(conflictReport, report)
	return nil
}

// rebuildQueue recovers from unreadable queue state by re-synthesizing
// operations from the dirty records in the store.
func (e *Engine) rebuildQueue(ctx context.Context) ([]*models.SyncOperation, error) {
	e.logger.Warn("queue state corrupt, rebuilding from dirty records")

	dirty, err := e.cfg.Store.Dirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dirty records: %w", err)
	}
	count, err := e.cfg.Queue.Rebuild(ctx, dirty)
	if err != nil {
		return nil, fmt.Errorf("queue rebuild failed: %w", err)
	}
	e.logger.Info("queue rebuilt", "operations", count)

	return e.cfg.Queue.PeekBatch(ctx, e.cfg.PushBatchSize)
}

// recordConflict folds a resolution report into the cycle report and
// notifies the host when disclosure is required.
func (e *Engine) recordConflict(conflictReport *models.ConflictReport, report *Report) {
	if conflictReport == nil || conflictReport.Empty() {
		return
	}
	report.Conflict++
	if conflictReport.RequiresDisclosure {
		report.Disclosures = append(report.Disclosures, *conflictReport)
		if e.cfg.OnDisclosure != nil {
			e.cfg.OnDisclosure(*conflictReport)
		}
	}
}
