package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account identity. The lifecycle engine only stores and
// compares identifiers; account management lives elsewhere.
// Maps to CockroachDB users table
type User struct {
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
