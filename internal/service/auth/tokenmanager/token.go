package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/clock"
	"github.com/nkiryanov/chatr/internal/logger"
	"github.com/nkiryanov/chatr/internal/metrics"
	"github.com/nkiryanov/chatr/internal/models"
	"github.com/nkiryanov/chatr/internal/repository"
	"github.com/nkiryanov/chatr/internal/service/auth/tokencodec"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour

	MinAccessTokenTTL = time.Minute
	MaxAccessTokenTTL = 1440 * time.Minute
)

// Token manager with sensible defaults
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Optional
	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

type TokenManager struct {
	codec *tokencodec.Codec
	clock clock.Clock

	accessTTL  time.Duration
	refreshTTL time.Duration

	// Denylist of revoked token ids. Revocation is disabled if nil.
	revoked repository.RevokedTokenRepo

	logger  logger.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, revoked repository.RevokedTokenRepo) (*TokenManager, error) {
	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	switch {
	case cfg.AccessTTL < MinAccessTokenTTL || cfg.AccessTTL > MaxAccessTokenTTL:
		return nil, fmt.Errorf("access token ttl must be within [%s, %s], got %s", MinAccessTokenTTL, MaxAccessTokenTTL, cfg.AccessTTL)
	case cfg.RefreshTTL <= cfg.AccessTTL:
		return nil, fmt.Errorf("refresh token ttl %s must be longer than access token ttl %s", cfg.RefreshTTL, cfg.AccessTTL)
	}

	c := clock.OrSystem(cfg.Clock)
	codec, err := tokencodec.New(tokencodec.Config{SecretKey: cfg.SecretKey, Alg: cfg.Alg, Clock: c})
	if err != nil {
		return nil, err
	}

	return &TokenManager{
		codec:      codec,
		clock:      c,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		revoked:    revoked,
		logger:     logger.OrNoOp(cfg.Logger),
		metrics:    cfg.Metrics,
	}, nil
}

// IssuePair signs an access and a refresh token for the same subject
func (m *TokenManager) IssuePair(subject string) (models.TokenPair, error) {
	access, accessClaims, err := m.codec.Sign(subject, tokencodec.ClassAccess, m.accessTTL)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	refresh, refreshClaims, err := m.codec.Sign(subject, tokencodec.ClassRefresh, m.refreshTTL)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessClaims.ExpiresAt.Time},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshClaims.ExpiresAt.Time},
	}, nil
}

// Parse and validate access token
func (m *TokenManager) VerifyAccess(ctx context.Context, token string) (tokencodec.Claims, error) {
	return m.verify(ctx, token, tokencodec.ClassAccess)
}

// Parse and validate refresh token
func (m *TokenManager) VerifyRefresh(ctx context.Context, token string) (tokencodec.Claims, error) {
	return m.verify(ctx, token, tokencodec.ClassRefresh)
}

func (m *TokenManager) verify(ctx context.Context, token string, class tokencodec.Class) (tokencodec.Claims, error) {
	claims, err := m.codec.Verify(token)
	if err == nil && claims.Class != class {
		err = fmt.Errorf("%w: want %s, got %s", apperrors.ErrTokenWrongClass, class, claims.Class)
	}
	if err == nil && m.revoked != nil {
		var revoked bool
		revoked, err = m.revoked.IsRevoked(ctx, claims.ID)
		switch {
		case err != nil:
			err = fmt.Errorf("error while checking token revocation. Err: %w", err)
		case revoked:
			err = apperrors.ErrTokenRevoked
		}
	}

	m.metrics.TokenVerification(string(class), verifyResult(err))
	if err != nil {
		m.logger.Debug("token rejected", "class", class, "error", err)
		return tokencodec.Claims{}, err
	}

	return claims, nil
}

// Revoke adds the token id to the denylist until the token expires.
// Returns apperrors.ErrTokenRevoked if the token was revoked already.
func (m *TokenManager) Revoke(ctx context.Context, claims tokencodec.Claims) error {
	if m.revoked == nil {
		return errors.New("token revocation is not configured")
	}

	added, err := m.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	switch {
	case err != nil:
		return fmt.Errorf("error while revoking token. Err: %w", err)
	case !added:
		return apperrors.ErrTokenRevoked
	default:
		return nil
	}
}

// PruneRevoked drops denylist entries of tokens expired anyway
func (m *TokenManager) PruneRevoked(ctx context.Context) (int64, error) {
	if m.revoked == nil {
		return 0, nil
	}

	deleted, err := m.revoked.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("error while pruning revoked tokens. Err: %w", err)
	}
	return deleted, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, apperrors.ErrTokenExpired):
		return "expired"
	case errors.Is(err, apperrors.ErrTokenSignature):
		return "signature"
	case errors.Is(err, apperrors.ErrTokenWrongClass):
		return "wrong_class"
	case errors.Is(err, apperrors.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, apperrors.ErrTokenMalformed):
		return "malformed"
	default:
		return "error"
	}
}
