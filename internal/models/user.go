package models

import "time"

// User carries the little identity the delivery core needs. Account
// management (registration, profiles) lives outside this service.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
