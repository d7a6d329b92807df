// Package verification issues and redeems single-use email verification tokens.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/clock"
	"github.com/nkiryanov/chatr/internal/logger"
	"github.com/nkiryanov/chatr/internal/models"
	"github.com/nkiryanov/chatr/internal/repository"
)

const DefaultTTL = 24 * time.Hour

type Config struct {
	// Token lifetime, DefaultTTL if zero
	TTL time.Duration

	Clock  clock.Clock
	Logger logger.Logger
}

type Service struct {
	storage repository.Storage
	clock   clock.Clock
	ttl     time.Duration
	logger  logger.Logger
}

func New(cfg Config, storage repository.Storage) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("verification token ttl must be positive, got %s", cfg.TTL)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	return &Service{
		storage: storage,
		clock:   clock.OrSystem(cfg.Clock),
		ttl:     cfg.TTL,
		logger:  logger.OrNoOp(cfg.Logger),
	}, nil
}

// WithStorage returns a copy working on s, usually a transaction bound storage
func (v *Service) WithStorage(s repository.Storage) *Service {
	c := *v
	c.storage = s
	return &c
}

// Issue creates a new token for the user. Outstanding tokens stay valid.
func (v *Service) Issue(ctx context.Context, userID uuid.UUID) (models.VerificationToken, error) {
	now := v.clock.Now()

	token, err := v.storage.Verification().Create(ctx, models.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(v.ttl),
	})
	if err != nil {
		return models.VerificationToken{}, fmt.Errorf("error while saving verification token. Err: %w", err)
	}

	return token, nil
}

// Reissue drops every unredeemed token of the user and issues a fresh one
func (v *Service) Reissue(ctx context.Context, userID uuid.UUID) (models.VerificationToken, error) {
	var token models.VerificationToken

	err := v.storage.InTx(ctx, func(tx repository.Storage) error {
		deleted, err := tx.Verification().DeleteUnredeemedForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("error while deleting stale verification tokens. Err: %w", err)
		}
		if deleted > 0 {
			v.logger.Debug("stale verification tokens deleted", "user_id", userID, "count", deleted)
		}

		token, err = v.WithStorage(tx).Issue(ctx, userID)
		return err
	})

	return token, err
}

// Redeem consumes the token and marks its owner verified in one unit of work.
// Of concurrent redemptions of one token exactly one succeeds, others get
// apperrors.ErrVerificationTokenUsed.
func (v *Service) Redeem(ctx context.Context, token string) (models.User, error) {
	var user models.User

	err := v.storage.InTx(ctx, func(tx repository.Storage) error {
		record, err := tx.Verification().GetByToken(ctx, token)
		if err != nil {
			return err
		}

		now := v.clock.Now()
		switch {
		case record.RedeemedAt != nil:
			return apperrors.ErrVerificationTokenUsed
		case now.After(record.ExpiresAt):
			return apperrors.ErrVerificationTokenExpired
		}

		redeemed, err := tx.Verification().Redeem(ctx, token, now)
		if err != nil {
			return fmt.Errorf("error while redeeming verification token. Err: %w", err)
		}
		if !redeemed {
			return apperrors.ErrVerificationTokenUsed
		}

		user, err = tx.User().GetUserByID(ctx, record.UserID)
		if err != nil {
			return fmt.Errorf("error while loading token owner %s. Err: %w", record.UserID, err)
		}

		user.Verified = true
		user.VerifiedAt = &now
		if err := tx.User().UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("error while marking user %s verified. Err: %w", user.ID, err)
		}

		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}
