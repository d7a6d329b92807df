// Package tokencodec signs and verifies self-contained bearer tokens (HMAC JWT).
package tokencodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/clock"
)

const defaultSigningMethod = "HS256"

// Token class, carried in the "type" claim
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

func (c Class) Valid() bool {
	return c == ClassAccess || c == ClassRefresh
}

// Claims of every issued token.
// Subject is the subject key, ID is a random jti used for revocation.
type Claims struct {
	jwt.RegisteredClaims
	Class Class `json:"type"`
}

type Config struct {
	// Shared secret, required
	SecretKey string

	// HMAC algorithm: HS256, HS384 or HS512. HS256 if empty.
	Alg string

	// System clock if nil
	Clock clock.Clock
}

type Codec struct {
	key    []byte
	method jwt.SigningMethod
	clock  clock.Clock
	parser *jwt.Parser
}

func New(cfg Config) (*Codec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	method, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use HMAC one", cfg.Alg)
	}

	return &Codec{
		key:    []byte(cfg.SecretKey),
		method: method,
		clock:  clock.OrSystem(cfg.Clock),
		// Expiry is checked against the injected clock below, not the parser's wall clock
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method.Alg()}), jwt.WithoutClaimsValidation()),
	}, nil
}

// Sign issues a token for subject that expires ttl after now, rounded up to a whole second
func (c *Codec) Sign(subject string, class Class, ttl time.Duration) (string, Claims, error) {
	switch {
	case subject == "":
		return "", Claims{}, errors.New("subject must not be empty")
	case !class.Valid():
		return "", Claims{}, fmt.Errorf("unknown token class %q", class)
	case ttl <= 0:
		return "", Claims{}, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	// exp has second precision, a fractional ttl is rounded up
	now := c.clock.Now().Truncate(time.Second)
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Class: class,
	}

	token, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("error while signing token. Err: %w", err)
	}

	return token, claims, nil
}

// Verify checks signature and expiry. Token is valid while now <= exp.
// Every error wraps apperrors.ErrTokenInvalid.
func (c *Codec) Verify(token string) (Claims, error) {
	var claims Claims

	_, err := c.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return Claims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenSignature, err)
	default:
		return Claims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenMalformed, err)
	}

	switch {
	case claims.Subject == "":
		return Claims{}, fmt.Errorf("%w: no subject", apperrors.ErrTokenMalformed)
	case claims.ExpiresAt == nil:
		return Claims{}, fmt.Errorf("%w: no expiry", apperrors.ErrTokenMalformed)
	case !claims.Class.Valid():
		return Claims{}, fmt.Errorf("%w: unknown class %q", apperrors.ErrTokenMalformed, claims.Class)
	}

	if c.clock.Now().After(claims.ExpiresAt.Time) {
		return Claims{}, fmt.Errorf("%w: expired at %s", apperrors.ErrTokenExpired, claims.ExpiresAt.Time)
	}

	return claims, nil
}
