package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/models"
)

type VerificationTokenRepo struct {
	q querier
}

const createVerificationToken = `-- name: CreateVerificationToken
INSERT INTO email_verification_tokens (id, user_id, token, created_at, expires_at, redeemed_at)
VALUES (?, ?, ?, ?, ?, ?)
`

func (r *VerificationTokenRepo) Create(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	_, err := r.q.ExecContext(ctx, createVerificationToken,
		token.ID.String(), token.UserID.String(), token.Token,
		toMicros(token.CreatedAt), toMicros(token.ExpiresAt), toNullMicros(token.RedeemedAt),
	)
	if err != nil {
		return models.VerificationToken{}, fmt.Errorf("db error: %w", err)
	}

	return r.GetByToken(ctx, token.Token)
}

const getVerificationToken = `-- name: GetVerificationToken
SELECT id, user_id, token, created_at, expires_at, redeemed_at
FROM email_verification_tokens
WHERE token = ?
`

func (r *VerificationTokenRepo) GetByToken(ctx context.Context, token string) (models.VerificationToken, error) {
	var (
		t                    models.VerificationToken
		id, userID           string
		createdAt, expiresAt int64
		redeemedAt           sql.NullInt64
	)

	err := r.q.QueryRowContext(ctx, getVerificationToken, token).
		Scan(&id, &userID, &t.Token, &createdAt, &expiresAt, &redeemedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.VerificationToken{}, apperrors.ErrVerificationTokenNotFound
	case err != nil:
		return models.VerificationToken{}, fmt.Errorf("db error: %w", err)
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return models.VerificationToken{}, fmt.Errorf("corrupted token id %q: %w", id, err)
	}
	if t.UserID, err = uuid.Parse(userID); err != nil {
		return models.VerificationToken{}, fmt.Errorf("corrupted user id %q: %w", userID, err)
	}
	t.CreatedAt = fromMicros(createdAt)
	t.ExpiresAt = fromMicros(expiresAt)
	t.RedeemedAt = fromNullMicros(redeemedAt)

	return t, nil
}

const redeemVerificationToken = `-- name: RedeemVerificationToken
UPDATE email_verification_tokens
SET redeemed_at = ?2
WHERE token = ?1 AND redeemed_at IS NULL AND expires_at >= ?2
`

func (r *VerificationTokenRepo) Redeem(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, redeemVerificationToken, token, toMicros(now))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected == 1, nil
}

const deleteUnredeemedVerificationTokens = `-- name: DeleteUnredeemedVerificationTokens
DELETE FROM email_verification_tokens
WHERE user_id = ? AND redeemed_at IS NULL
`

func (r *VerificationTokenRepo) DeleteUnredeemedForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := r.q.ExecContext(ctx, deleteUnredeemedVerificationTokens, userID.String())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
