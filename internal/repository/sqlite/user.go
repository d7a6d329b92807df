package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/models"
)

type UserRepo struct {
	q querier
}

const userColumns = `id, created_at, username, email, password_hash, verified, verified_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, created_at, username, email, password_hash, verified, verified_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	_, err := r.q.ExecContext(ctx, createUser,
		user.ID.String(), toMicros(user.CreatedAt), user.Username, user.Email, user.HashedPassword,
		user.Verified, toNullMicros(user.VerifiedAt),
	)
	if err != nil {
		constraint, ok := uniqueViolation(err)
		switch {
		case ok && strings.Contains(constraint, "users.username"):
			return models.User{}, apperrors.ErrUsernameTaken
		case ok && strings.Contains(constraint, "users_email_lower_key"):
			return models.User{}, apperrors.ErrEmailTaken
		case ok:
			return models.User{}, fmt.Errorf("%s: %w", constraint, apperrors.ErrConflict)
		default:
			return models.User{}, fmt.Errorf("db error: %w", err)
		}
	}

	return r.GetUserByID(ctx, user.ID)
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID.String())
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email)
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

const updateUser = `-- name: UpdateUser
UPDATE users
SET password_hash = ?, verified = ?, verified_at = ?
WHERE id = ?
`

func (r *UserRepo) UpdateUser(ctx context.Context, user models.User) error {
	res, err := r.q.ExecContext(ctx, updateUser,
		user.HashedPassword, user.Verified, toNullMicros(user.VerifiedAt), user.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrSubjectNotFound
	}
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (models.User, error) {
	var (
		u          models.User
		id         string
		createdAt  int64
		verifiedAt sql.NullInt64
	)

	err := r.q.QueryRowContext(ctx, query, arg).
		Scan(&id, &createdAt, &u.Username, &u.Email, &u.HashedPassword, &u.Verified, &verifiedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.User{}, apperrors.ErrSubjectNotFound
	case err != nil:
		return models.User{}, fmt.Errorf("db error: %w", err)
	}

	u.ID, err = uuid.Parse(id)
	if err != nil {
		return models.User{}, fmt.Errorf("corrupted user id %q: %w", id, err)
	}
	u.CreatedAt = fromMicros(createdAt)
	u.VerifiedAt = fromNullMicros(verifiedAt)

	return u, nil
}
