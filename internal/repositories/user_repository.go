package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

//go:embed migrations/001_create_users_table_up.sql
var createUsersTableQuery string

// UserRepository answers identity checks against the user base. Account
// management lives in the surrounding application; the delivery core
// only ever asks whether a user exists.
type UserRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewUserRepository(db *sql.DB, logger *slog.Logger) (*UserRepository, error) {
	if _, err := db.Exec(createUsersTableQuery); err != nil {
		return nil, fmt.Errorf("users migration failed: %w", err)
	}
	return &UserRepository{db: db, logger: logger}, nil
}

func (r *UserRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("user lookup failed: %w", err)
	}
	return true, nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Username, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	user.CreatedAt = createdAt
	return &user, nil
}
