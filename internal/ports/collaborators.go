package ports

import (
	"context"
	"time"
)

// UserDirectory answers existence checks against the user base owned by
// the surrounding application.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// PushNotifier hands a summary to the mobile push pipeline when a user
// has no live connection. Delivery beyond this call is out of scope.
type PushNotifier interface {
	NotifyOffline(ctx context.Context, userID, summary string)
}

// AttachmentStore removes stored attachment payloads.
type AttachmentStore interface {
	Remove(ctx context.Context, path string) error
}

// PresenceStore records when a user was last seen online.
type PresenceStore interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (time.Time, error)
}

type TokenRepository interface {
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
	Revoke(ctx context.Context, tokenHash string, expiration time.Duration) error
}
