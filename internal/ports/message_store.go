package ports

import (
	"context"
	"time"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

// MessageStore persists message records. The core treats it as an opaque
// repository; ids are assigned by the store on create.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)

	// UpsertDraft overwrites the single draft slot for the
	// (sender, recipient) pair, creating it when absent.
	UpsertDraft(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetDraft(ctx context.Context, senderID, recipientID string) (*models.Message, error)

	FindByConversation(ctx context.Context, userA, userB string, limit int, before *time.Time) ([]models.Message, error)
	FindByID(ctx context.Context, id string) (*models.Message, error)
	FindByIDs(ctx context.Context, ids []string, recipientID string) ([]models.Message, error)

	// UpdateStatusBulk moves every listed message currently in one of the
	// from statuses to the to status, skipping ids that do not match.
	// Returns the number of rows changed.
	UpdateStatusBulk(ctx context.Context, ids []string, recipientID string, from []models.MessageStatus, to models.MessageStatus, readAt *time.Time) (int64, error)

	FindExpired(ctx context.Context, now time.Time) ([]models.Message, error)
	DeleteMany(ctx context.Context, ids []string) (int64, error)
}
