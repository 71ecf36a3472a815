package models

import "time"

// ChangeOrigin tells listeners whether a committed write came from a
// local caller or from a confirmed remote apply.
type ChangeOrigin string

const (
	OriginLocal  ChangeOrigin = "local"
	OriginRemote ChangeOrigin = "remote"
)

// ChangeEvent is emitted by the local store on every committed write.
// UI layers and other read-side consumers subscribe to these instead of
// observing the store directly.
type ChangeEvent struct {
	At     time.Time    `json:"at"`
	Entity *Entity      `json:"entity"`
	Origin ChangeOrigin `json:"origin"`
}
