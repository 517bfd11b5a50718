package auth

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is immutable once issued; the only transition after creation is deletion.
type Session struct {
	ID        string    `json:"-"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validation is the outcome of checking a session id. When OK is false both
// Session and User are zero values.
type Validation struct {
	Session Session
	User    User
	OK      bool
}
