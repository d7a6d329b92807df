package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/models"
)

const (
	usernameUniqueConstraint = "users_username_key"
	emailUniqueConstraint    = "users_email_lower_key"
)

type UserRepo struct {
	DB DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (id, created_at, username, email, password_hash, verified, verified_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, username, email, password_hash, verified, verified_at
`

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	rows, err := r.DB.Query(ctx, createUser,
		user.ID, user.CreatedAt, user.Username, user.Email, user.HashedPassword, user.Verified, user.VerifiedAt,
	)
	if err != nil {
		return models.User{}, mapCreateUserErr(err)
	}

	created, err := pgx.CollectOneRow(rows, rowToUser)
	if err != nil {
		return models.User{}, mapCreateUserErr(err)
	}

	return created, nil
}

func mapCreateUserErr(err error) error {
	constraint, ok := uniqueViolation(err)
	switch {
	case ok && constraint == usernameUniqueConstraint:
		return apperrors.ErrUsernameTaken
	case ok && constraint == emailUniqueConstraint:
		return apperrors.ErrEmailTaken
	case ok:
		return fmt.Errorf("unique violation on %s: %w", constraint, apperrors.ErrConflict)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, username, email, password_hash, verified, verified_at
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return r.getOne(ctx, getUserByID, userID)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT id, created_at, username, email, password_hash, verified, verified_at
FROM users
WHERE lower(email) = lower($1)
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getOne(ctx, getUserByEmail, email)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT id, created_at, username, email, password_hash, verified, verified_at
FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getOne(ctx, getUserByUsername, username)
}

const updateUser = `-- name: UpdateUser
UPDATE users
SET password_hash = $2, verified = $3, verified_at = $4
WHERE id = $1
`

func (r *UserRepo) UpdateUser(ctx context.Context, user models.User) error {
	tag, err := r.DB.Exec(ctx, updateUser, user.ID, user.HashedPassword, user.Verified, user.VerifiedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrSubjectNotFound
	}
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (models.User, error) {
	rows, err := r.DB.Query(ctx, query, arg)
	if err != nil {
		return models.User{}, fmt.Errorf("db error: %w", err)
	}

	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrSubjectNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.Email, &u.HashedPassword, &u.Verified, &u.VerifiedAt)
	return u, err
}
