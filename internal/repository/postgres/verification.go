package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/models"
)

type VerificationTokenRepo struct {
	DB DBTX
}

const createVerificationToken = `-- name: CreateVerificationToken
INSERT INTO email_verification_tokens (id, user_id, token, created_at, expires_at, redeemed_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, token, created_at, expires_at, redeemed_at
`

func (r *VerificationTokenRepo) Create(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	rows, err := r.DB.Query(ctx, createVerificationToken,
		token.ID, token.UserID, token.Token, token.CreatedAt, token.ExpiresAt, token.RedeemedAt,
	)
	if err != nil {
		return models.VerificationToken{}, fmt.Errorf("db error: %w", err)
	}

	created, err := pgx.CollectOneRow(rows, rowToVerificationToken)
	if err != nil {
		return models.VerificationToken{}, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getVerificationToken = `-- name: GetVerificationToken
SELECT id, user_id, token, created_at, expires_at, redeemed_at
FROM email_verification_tokens
WHERE token = $1
`

// Return the token even it is redeemed or expired already
func (r *VerificationTokenRepo) GetByToken(ctx context.Context, token string) (models.VerificationToken, error) {
	rows, err := r.DB.Query(ctx, getVerificationToken, token)
	if err != nil {
		return models.VerificationToken{}, fmt.Errorf("db error: %w", err)
	}

	t, err := pgx.CollectOneRow(rows, rowToVerificationToken)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrVerificationTokenNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const redeemVerificationToken = `-- name: RedeemVerificationToken
UPDATE email_verification_tokens
SET redeemed_at = $2
WHERE token = $1 AND redeemed_at IS NULL AND expires_at >= $2
`

// Conditional update: of concurrent callers exactly one gets true
func (r *VerificationTokenRepo) Redeem(ctx context.Context, token string, now time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, redeemVerificationToken, token, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const deleteUnredeemedVerificationTokens = `-- name: DeleteUnredeemedVerificationTokens
DELETE FROM email_verification_tokens
WHERE user_id = $1 AND redeemed_at IS NULL
`

func (r *VerificationTokenRepo) DeleteUnredeemedForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteUnredeemedVerificationTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToVerificationToken(row pgx.CollectableRow) (models.VerificationToken, error) {
	var t models.VerificationToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.RedeemedAt)
	return t, err
}
