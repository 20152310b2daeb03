package db

import (
	"time"

	"github.com/google/uuid"
)

// User represents a Spotify user profile.
type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time // nullable
}

// Session is a session server login. The access token is the canonical token
// handed to every client of the session; the refresh token never leaves the
// server.
type Session struct {
	ID           uuid.UUID
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}
