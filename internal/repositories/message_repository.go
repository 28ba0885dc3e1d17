package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

//go:embed migrations/003_create_messages_table_up.sql
var createMessagesTableQuery string

const messageColumns = "id, sender_id, recipient_id, ciphertext, iv, auth_tag, key_id, status, ts, read_at, expires_at, attachments"

// MessageRepository is the Postgres-backed MessageStore. Ids are
// assigned here on create.
type MessageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMessageRepository(db *sql.DB, logger *slog.Logger) (*MessageRepository, error) {
	if _, err := db.Exec(createMessagesTableQuery); err != nil {
		return nil, fmt.Errorf("messages migration failed: %w", err)
	}
	return &MessageRepository{db: db, logger: logger}, nil
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, err
	}

	stored := *msg
	stored.ID = uuid.New().String()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, ciphertext, iv, auth_tag, key_id, status, ts, read_at, expires_at, attachments)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		stored.ID, stored.SenderID, stored.RecipientID, stored.Ciphertext, stored.IV, stored.AuthTag,
		stored.KeyID, stored.Status, stored.Timestamp, stored.ReadAt, stored.ExpiresAt, attachments)
	if err != nil {
		return nil, fmt.Errorf("message insert failed: %w", err)
	}
	return &stored, nil
}

func (r *MessageRepository) UpsertDraft(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := *msg
	stored.Status = models.StatusDraft

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, ciphertext, iv, auth_tag, key_id, status, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft', $8)
		 ON CONFLICT (sender_id, recipient_id) WHERE status = 'draft'
		 DO UPDATE SET ciphertext = EXCLUDED.ciphertext, iv = EXCLUDED.iv,
		               auth_tag = EXCLUDED.auth_tag, key_id = EXCLUDED.key_id, ts = EXCLUDED.ts
		 RETURNING id`,
		uuid.New().String(), stored.SenderID, stored.RecipientID, stored.Ciphertext, stored.IV,
		stored.AuthTag, stored.KeyID, stored.Timestamp)
	if err := row.Scan(&stored.ID); err != nil {
		return nil, fmt.Errorf("draft upsert failed: %w", err)
	}
	return &stored, nil
}

func (r *MessageRepository) GetDraft(ctx context.Context, senderID, recipientID string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender_id = $1 AND recipient_id = $2 AND status = 'draft'`,
		senderID, recipientID)
	return scanMessageRow(row)
}

func (r *MessageRepository) FindByConversation(ctx context.Context, userA, userB string, limit int, before *time.Time) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		   AND status <> 'draft'
		   AND (expires_at IS NULL OR expires_at > now())
		   AND ($3::timestamptz IS NULL OR ts < $3)
		 ORDER BY ts DESC
		 LIMIT $4`,
		userA, userB, before, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation query failed: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessageRow(row)
}

func (r *MessageRepository) FindByIDs(ctx context.Context, ids []string, recipientID string) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ANY($1) AND recipient_id = $2`,
		pq.Array(ids), recipientID)
	if err != nil {
		return nil, fmt.Errorf("find by ids failed: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UpdateStatusBulk is the guarded monotonic transition: only rows still
// in one of the from statuses move, so a racing read receipt can never
// be demoted by a later delivery receipt.
func (r *MessageRepository) UpdateStatusBulk(ctx context.Context, ids []string, recipientID string, from []models.MessageStatus, to models.MessageStatus, readAt *time.Time) (int64, error) {
	fromStates := make([]string, len(from))
	for i, st := range from {
		fromStates[i] = string(st)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE messages
		 SET status = $1, read_at = COALESCE($2, read_at)
		 WHERE id = ANY($3) AND recipient_id = $4 AND status = ANY($5)`,
		string(to), readAt, pq.Array(ids), recipientID, pq.Array(fromStates))
	if err != nil {
		return 0, fmt.Errorf("bulk status update failed: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepository) FindExpired(ctx context.Context, now time.Time) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("expired query failed: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepository) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("bulk delete failed: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var attachments []byte

	err := row.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Ciphertext, &msg.IV, &msg.AuthTag,
		&msg.KeyID, &msg.Status, &msg.Timestamp, &msg.ReadAt, &msg.ExpiresAt, &attachments)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func scanMessageRow(row *sql.Row) (*models.Message, error) {
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}
