package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/models"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func newUser(username, email string) models.User {
	return models.User{
		ID:             uuid.New(),
		CreatedAt:      mustParseTime("2025-01-01 10:00:00Z"),
		Username:       username,
		Email:          email,
		HashedPassword: "hashed-password",
	}
}
