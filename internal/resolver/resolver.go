package resolver

import (
	"fmt"

	"github.com/iudanet/hearthsync/internal/models"
)

// Resolver merges divergent local and remote versions of a record
// according to the registered per-type policies.
type Resolver struct {
	reg *Registry
}

// New creates a resolver over the given policy registry.
func New(reg *Registry) *Resolver {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Resolver{reg: reg}
}

// Resolve merges a local record with an incoming remote record for the
// same entity and reports every contested field. The result is complete:
// its dirty flag says whether local changes survived that the server has
// not seen, and its base snapshot points at the remote version so a
// follow-up push resolves against the right ancestor.
//
// Resolution order per field: status precedence, server-owned fields,
// disjoint-change merge against the common ancestor, last-writer-wins
// with a deterministic actor-id tie-break. When the local record's base
// is not an ancestor of the remote version (stale write), the disjoint
// shortcut is disabled and every divergent field is treated as
// contested.
func (r *Resolver) Resolve(local, remote *models.Entity) (*models.Entity, *models.ConflictReport, error) {
	if local.ID != remote.ID || local.Type != remote.Type {
		return nil, nil, fmt.Errorf("cannot resolve %s/%s against %s/%s",
			local.Type, local.ID, remote.Type, remote.ID)
	}

	report := &models.ConflictReport{
		EntityType: local.Type,
		EntityID:   local.ID,
		Winner:     models.SideRemote,
	}

	if local.IsDeleted || remote.IsDeleted {
		return r.resolveTombstone(local, remote, report), report, nil
	}

	pol := r.reg.Policy(local.Type)

	// Version gate: the base is usable as a common ancestor only when
	// the remote lineage includes it. Versions per id are monotonic and
	// never reused, so ancestry reduces to a version comparison.
	var baseFields map[string]any
	haveBase := false
	if local.Base != nil && local.Base.Version <= remote.Version {
		baseFields = local.Base.Fields
		haveBase = true
	}

	mergedFields := make(map[string]any)
	for _, field := range models.FieldNames(baseFields, local.Fields, remote.Fields) {
		lv, lok := local.Fields[field]
		rv, rok := remote.Fields[field]

		// No divergence.
		if lok == rok && (!lok || models.ValueEqual(lv, rv)) {
			if lok {
				mergedFields[field] = lv
			}
			continue
		}

		if field == pol.StatusField && lok && rok {
			if done := resolveStatus(&pol, field, lv, rv, mergedFields, report); done {
				continue
			}
		}

		if pol.IsServerOwned(field) {
			resolveServerOwned(field, lv, lok, rv, rok, mergedFields, report)
			continue
		}

		if haveBase {
			bv, bok := baseFields[field]
			localChanged := changed(bv, bok, lv, lok)
			remoteChanged := changed(bv, bok, rv, rok)
			switch {
			case localChanged && !remoteChanged:
				if lok {
					mergedFields[field] = lv
				}
				continue
			case remoteChanged && !localChanged:
				if rok {
					mergedFields[field] = rv
				}
				continue
			}
			// Both sides touched the field: fall through to LWW.
		}

		resolveLastWriter(local, remote, field, lv, lok, rv, rok, mergedFields, report)
	}

	return r.finish(local, remote, mergedFields, report), report, nil
}

// resolveStatus applies the precedence ranking. It reports false when
// either value is outside the ranking, deferring to last-writer-wins.
func resolveStatus(pol *Policy, field string, lv, rv any, merged map[string]any, report *models.ConflictReport) bool {
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if !lok || !rok {
		return false
	}
	lr, lranked := pol.StatusRank[ls]
	rr, rranked := pol.StatusRank[rs]
	if !lranked || !rranked || lr == rr {
		return false
	}

	if lr > rr {
		merged[field] = lv
		report.Outcomes = append(report.Outcomes, models.FieldOutcome{
			Field:     field,
			Winner:    models.SideLocal,
			Reason:    models.ReasonStatusPrecedence,
			Discarded: rv,
		})
	} else {
		merged[field] = rv
		report.Outcomes = append(report.Outcomes, models.FieldOutcome{
			Field:     field,
			Winner:    models.SideRemote,
			Reason:    models.ReasonStatusPrecedence,
			Discarded: lv,
		})
	}
	return true
}

// resolveServerOwned lets the remote value win and flags the outcome for
// user-visible disclosure, since a local edit is silently discarded.
func resolveServerOwned(field string, lv any, lok bool, rv any, rok bool, merged map[string]any, report *models.ConflictReport) {
	if !rok {
		// The server never carried the field; nothing authoritative
		// to enforce.
		if lok {
			merged[field] = lv
		}
		return
	}
	merged[field] = rv
	if lok && !models.ValueEqual(lv, rv) {
		report.Outcomes = append(report.Outcomes, models.FieldOutcome{
			Field:     field,
			Winner:    models.SideRemote,
			Reason:    models.ReasonServerAuthoritative,
			Discarded: lv,
		})
		report.RequiresDisclosure = true
	}
}

// resolveLastWriter picks the newer write, breaking timestamp ties by
// actor id so replays converge on every device.
func resolveLastWriter(local, remote *models.Entity, field string, lv any, lok bool, rv any, rok bool, merged map[string]any, report *models.ConflictReport) {
	if local.NewerThan(remote) {
		if lok {
			merged[field] = lv
		}
		report.Outcomes = append(report.Outcomes, models.FieldOutcome{
			Field:     field,
			Winner:    models.SideLocal,
			Reason:    models.ReasonLastWriterWins,
			Discarded: rv,
		})
		return
	}
	if rok {
		merged[field] = rv
	}
	report.Outcomes = append(report.Outcomes, models.FieldOutcome{
		Field:     field,
		Winner:    models.SideRemote,
		Reason:    models.ReasonLastWriterWins,
		Discarded: lv,
	})
}

// resolveTombstone handles deletions: a tombstone supersedes concurrent
// edits so deletions propagate instead of resurrecting.
func (r *Resolver) resolveTombstone(local, remote *models.Entity, report *models.ConflictReport) *models.Entity {
	switch {
	case local.IsDeleted && remote.IsDeleted:
		// Both sides converged on deletion; adopt the server's record.
		merged := remote.Clone()
		merged.IsDirty = false
		merged.Base = nil
		return merged

	case remote.IsDeleted:
		merged := remote.Clone()
		merged.IsDirty = false
		merged.Base = nil
		if local.IsDirty {
			// The record vanished under an unsynced local edit.
			report.Outcomes = append(report.Outcomes, models.FieldOutcome{
				Field:     "is_deleted",
				Winner:    models.SideRemote,
				Reason:    models.ReasonTombstone,
				Discarded: models.CloneFields(local.Fields),
			})
			report.RequiresDisclosure = true
		}
		return merged

	default: // local tombstone over a remote edit
		merged := local.Clone()
		merged.Version = maxVersion(local, remote) + 1
		merged.IsDirty = true
		merged.Base = &models.BaseSnapshot{
			Version: remote.Version,
			Fields:  models.CloneFields(remote.Fields),
		}
		report.Winner = models.SideLocal
		report.Outcomes = append(report.Outcomes, models.FieldOutcome{
			Field:     "is_deleted",
			Winner:    models.SideLocal,
			Reason:    models.ReasonTombstone,
			Discarded: models.CloneFields(remote.Fields),
		})
		return merged
	}
}

// finish assembles the merged record and classifies the overall winner.
func (r *Resolver) finish(local, remote *models.Entity, mergedFields map[string]any, report *models.ConflictReport) *models.Entity {
	// Local changes survived only if the merge differs from what the
	// server holds; otherwise adopt the remote record outright so the
	// confirmed version number stays aligned with the server's.
	if models.FieldsEqual(mergedFields, remote.Fields) {
		merged := remote.Clone()
		merged.IsDirty = false
		merged.Base = nil
		report.Winner = models.SideRemote
		return merged
	}

	newer := local
	if remote.NewerThan(local) {
		newer = remote
	}

	merged := &models.Entity{
		ID:             local.ID,
		Type:           local.Type,
		Fields:         mergedFields,
		Version:        maxVersion(local, remote) + 1,
		UpdatedAt:      newer.UpdatedAt,
		LastModifiedBy: newer.LastModifiedBy,
		IsDirty:        true,
		Base: &models.BaseSnapshot{
			Version: remote.Version,
			Fields:  models.CloneFields(remote.Fields),
		},
	}

	if models.FieldsEqual(mergedFields, local.Fields) {
		report.Winner = models.SideLocal
	} else {
		report.Winner = models.SideMerged
	}
	return merged
}

func changed(bv any, bok bool, v any, ok bool) bool {
	if bok != ok {
		return true
	}
	if !ok {
		return false
	}
	return !models.ValueEqual(bv, v)
}

func maxVersion(a, b *models.Entity) int64 {
	if a.Version > b.Version {
		return a.Version
	}
	return b.Version
}
