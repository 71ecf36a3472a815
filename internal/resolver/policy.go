// Package resolver implements deterministic conflict resolution between
// a local and a remote version of the same record. Resolution is a pure
// function: no I/O, no clocks, identical inputs produce identical
// outputs on every device.
package resolver

import (
	"slices"

	"github.com/iudanet/hearthsync/internal/models"
)

// Built-in task status values, ordered by precedence in TaskPolicy.
const (
	TaskStatusOpen            = "open"
	TaskStatusInProgress      = "in_progress"
	TaskStatusPendingApproval = "pending_approval"
	TaskStatusDone            = "done"
)

// Policy declares how conflicts are resolved for one entity type.
// Fields not mentioned anywhere in the policy follow the plain merge
// rules (disjoint merge, then last-writer-wins).
type Policy struct {
	// StatusRank maps status values to precedence; a higher rank wins
	// regardless of timestamps.
	StatusRank map[string]int
	// EntityType is the type this policy applies to.
	EntityType string
	// StatusField names the field resolved by precedence, if any.
	StatusField string
	// ServerOwned lists fields where the remote value always wins and
	// a discarded local edit must be disclosed to the user.
	ServerOwned []string
}

// IsServerOwned reports whether the field is declared server-owned.
func (p *Policy) IsServerOwned(field string) bool {
	return slices.Contains(p.ServerOwned, field)
}

// statusRanks builds a rank map from a precedence list ordered from
// lowest to highest.
func statusRanks(ascending ...string) map[string]int {
	ranks := make(map[string]int, len(ascending))
	for i, v := range ascending {
		ranks[v] = i
	}
	return ranks
}

// TaskPolicy resolves task status by precedence: a completion outranks a
// pending approval, which outranks in-progress and open. The losing
// attempt is reported, never silently dropped.
func TaskPolicy() Policy {
	return Policy{
		EntityType:  models.EntityTypeTask,
		StatusField: "status",
		StatusRank: statusRanks(
			TaskStatusOpen,
			TaskStatusInProgress,
			TaskStatusPendingApproval,
			TaskStatusDone,
		),
	}
}

// EventPolicy marks the schedule-stability-critical fields of shared
// calendar events as server-owned: the server's time always wins and the
// overwrite is disclosed.
func EventPolicy() Policy {
	return Policy{
		EntityType:  models.EntityTypeEvent,
		ServerOwned: []string{"startsAt", "endsAt", "location"},
	}
}

// Registry holds resolution policies keyed by entity type.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds a registry from the given policies.
func NewRegistry(policies ...Policy) *Registry {
	r := &Registry{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		r.policies[p.EntityType] = p
	}
	return r
}

// DefaultRegistry carries the built-in family entity policies.
func DefaultRegistry() *Registry {
	return NewRegistry(TaskPolicy(), EventPolicy())
}

// Register adds or replaces the policy for a type.
func (r *Registry) Register(p Policy) {
	r.policies[p.EntityType] = p
}

// Policy returns the policy for a type. Types without a registered
// policy resolve every field by the plain merge rules.
func (r *Registry) Policy(entityType string) Policy {
	if p, ok := r.policies[entityType]; ok {
		return p
	}
	return Policy{EntityType: entityType}
}
