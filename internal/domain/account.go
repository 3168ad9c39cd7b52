package domain

import "time"

// Account holds the balance for a single user identity.
// Balances are in cents to avoid floating point issues, and are
// never negative.
type Account struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// User is a registered identity. The password is stored only as a
// bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserUpdate carries the optional profile fields of an update request.
// Nil means "leave unchanged".
type UserUpdate struct {
	FirstName    *string
	LastName     *string
	PasswordHash *string
}
