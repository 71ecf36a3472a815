package engine

import "fmt"

// RejectedError reports a queued operation the server permanently
// refused. It is never retried; the host application decides what to do
// with the stranded local record.
type RejectedError struct {
	EntityType string
	EntityID   string
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("operation for %s/%s rejected by server: %s", e.EntityType, e.EntityID, e.Reason)
}
