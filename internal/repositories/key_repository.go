package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services/keying"
)

//go:embed migrations/002_create_keys_table_up.sql
var createKeysTableQuery string

// KeyRepository is the Postgres-backed KeyStore. Rotation happens inside
// one transaction, so callers observe the one-active-key-per-owner
// invariant atomically.
type KeyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewKeyRepository(db *sql.DB, logger *slog.Logger) (*KeyRepository, error) {
	if _, err := db.Exec(createKeysTableQuery); err != nil {
		return nil, fmt.Errorf("keys migration failed: %w", err)
	}
	return &KeyRepository{db: db, logger: logger}, nil
}

func (r *KeyRepository) GetActiveKey(ctx context.Context, userID string) (*models.Key, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, public_key, private_key, is_active, created_at
		 FROM keys WHERE owner_id = $1 AND is_active`, userID)
	return scanKey(row)
}

func (r *KeyRepository) GetKeyByID(ctx context.Context, keyID string) (*models.Key, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, public_key, private_key, is_active, created_at
		 FROM keys WHERE id = $1`, keyID)
	return scanKey(row)
}

// RotateKey deactivates every key the owner has and installs a fresh
// active one. Message records keep referencing old key ids, so old
// ciphertext stays readable; only new encryptions pick up the new key.
func (r *KeyRepository) RotateKey(ctx context.Context, userID string) (*models.Key, error) {
	material, err := keying.GenerateKey()
	if err != nil {
		return nil, err
	}

	key := &models.Key{
		ID:      uuid.New().String(),
		OwnerID: userID,
		// Symmetric material lives in both halves; the split naming
		// follows the wire model, not the cipher.
		PublicKey:  material,
		PrivateKey: material,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("key rotation begin failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE keys SET is_active = FALSE WHERE owner_id = $1 AND is_active`, userID); err != nil {
		return nil, fmt.Errorf("key deactivation failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO keys (id, owner_id, public_key, private_key, is_active, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5)`,
		key.ID, key.OwnerID, key.PublicKey, key.PrivateKey, key.CreatedAt); err != nil {
		return nil, fmt.Errorf("key insert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("key rotation commit failed: %w", err)
	}

	r.logger.Info("key rotated", "userID", userID, "keyID", key.ID)
	return key, nil
}

func scanKey(row *sql.Row) (*models.Key, error) {
	var key models.Key
	err := row.Scan(&key.ID, &key.OwnerID, &key.PublicKey, &key.PrivateKey, &key.IsActive, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}
