package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	Email          string // stored normalized: trimmed and lower-cased
	HashedPassword string
	Verified       bool
	VerifiedAt     *time.Time // nil until the email is confirmed
}
