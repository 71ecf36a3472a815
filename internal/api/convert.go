package api

import (
	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/pkg/api"
)

// ToWire converts a local entity to its wire representation. Local-only
// bookkeeping (dirty flag, base snapshot) never leaves the device.
func ToWire(e *models.Entity) api.Entity {
	return api.Entity{
		ID:             e.ID,
		EntityType:     e.Type,
		Version:        e.Version,
		UpdatedAt:      e.UpdatedAt,
		LastModifiedBy: e.LastModifiedBy,
		IsDeleted:      e.IsDeleted,
		Fields:         models.CloneFields(e.Fields),
	}
}

// FromWire converts a wire entity into a clean local record.
func FromWire(w api.Entity) *models.Entity {
	return &models.Entity{
		ID:             w.ID,
		Type:           w.EntityType,
		Version:        w.Version,
		UpdatedAt:      w.UpdatedAt,
		LastModifiedBy: w.LastModifiedBy,
		IsDeleted:      w.IsDeleted,
		Fields:         models.CloneFields(w.Fields),
	}
}

func wireKind(kind models.OperationKind) api.OperationKind {
	switch kind {
	case models.OpCreate:
		return api.OperationCreate
	case models.OpDelete:
		return api.OperationDelete
	default:
		return api.OperationUpdate
	}
}
