package ports

import "github.com/patrik-fredon/ZipChat-sub000/internal/models"

// Registry is the live-connection map. Send is best-effort and
// fire-and-forget: it reports whether the event was handed to a live
// connection, and drops the event otherwise. Offline delivery is the
// push-notification collaborator's problem, not the registry's.
type Registry interface {
	Send(userID string, event models.Event) bool
	Broadcast(event models.Event, excludeUserID string)
}
