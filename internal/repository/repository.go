package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// Email and username uniqueness is enforced by the store itself:
	// a duplicate must return apperrors.ErrEmailTaken or apperrors.ErrUsernameTaken
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by id, email (already normalized) or username
	// If user not found must return apperrors.ErrSubjectNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Persist mutable fields: password hash and verification state
	UpdateUser(ctx context.Context, user models.User) error
}

// Email verification token repository interface
type VerificationTokenRepo interface {
	Create(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error)

	// Return the token even if it is redeemed or expired
	// If the token does not exist must return apperrors.ErrVerificationTokenNotFound
	GetByToken(ctx context.Context, token string) (models.VerificationToken, error)

	// Set redeemed_at = now only if the token is not redeemed and not expired at now.
	// Reports whether this call performed the redemption.
	Redeem(ctx context.Context, token string, now time.Time) (bool, error)

	// Delete every token of the user that is not redeemed yet
	DeleteUnredeemedForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Denylist of bearer token ids revoked before their natural expiry
type RevokedTokenRepo interface {
	// Revoke is idempotent. Reports whether this call added the entry,
	// so of concurrent callers revoking the same jti exactly one gets true.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Delete entries whose tokens are expired at now anyway
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Verification() VerificationTokenRepo
	Revoked() RevokedTokenRepo

	// Run fn in a single unit of work. Commit if fn returns nil, rollback otherwise.
	InTx(ctx context.Context, fn func(Storage) error) error
}
