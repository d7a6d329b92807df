package postgres

import (
	"context"
	"fmt"
	"time"
)

type RevokedTokenRepo struct {
	DB DBTX
}

const revokeToken = `-- name: RevokeToken
INSERT INTO revoked_tokens (jti, expires_at)
VALUES ($1, $2)
ON CONFLICT (jti) DO NOTHING
`

func (r *RevokedTokenRepo) Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, revokeToken, jti, expiresAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const isTokenRevoked = `-- name: IsTokenRevoked
SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)
`

func (r *RevokedTokenRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.DB.QueryRow(ctx, isTokenRevoked, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return revoked, nil
}

const deleteExpiredRevokedTokens = `-- name: DeleteExpiredRevokedTokens
DELETE FROM revoked_tokens
WHERE expires_at < $1
`

func (r *RevokedTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredRevokedTokens, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
