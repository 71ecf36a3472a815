package api

// ChangeType identifies the kind of realtime change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeMessage is a single push-channel notification. Data carries the
// full record after the change; for deletes it is the tombstone.
type ChangeMessage struct {
	Type       ChangeType `json:"type"`
	EntityType string     `json:"entityType"`
	Data       Entity     `json:"data"`
}
