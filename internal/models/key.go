package models

import "time"

// Key is a per-user encryption key. The material is opaque to the core:
// messages for a user are encrypted under PublicKey and decrypted with
// PrivateKey. Neither half is ever logged.
//
// At most one key per owner is active at a time; rotation creates a new
// active key and deactivates all previous ones.
type Key struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	PublicKey  []byte    `json:"-"`
	PrivateKey []byte    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
