package models

import (
	"time"

	"github.com/google/uuid"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Session is what the auth gateway hands back after register, login or refresh
type Session struct {
	User User
	Pair TokenPair
}

// Single-use email verification token
type VerificationToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Token      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RedeemedAt *time.Time // nil if token not redeemed
}

// Usable reports whether the token may still be redeemed at now.
func (t VerificationToken) Usable(now time.Time) bool {
	return t.RedeemedAt == nil && !now.After(t.ExpiresAt)
}

// Outcome of an email confirmation, safe to show to the caller
type VerificationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
