package ports

import (
	"context"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

// KeyStore owns per-user key material. Rotation is atomic from the
// caller's perspective: the new key is active and every prior key for the
// owner is deactivated in a single call.
type KeyStore interface {
	GetActiveKey(ctx context.Context, userID string) (*models.Key, error)
	RotateKey(ctx context.Context, userID string) (*models.Key, error)
	GetKeyByID(ctx context.Context, keyID string) (*models.Key, error)
}
