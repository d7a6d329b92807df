package tokencodec

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/clock"
)

const testSecret = "test-secret-key-which-is-long-enough"

func newCodec(t *testing.T, c clock.Clock) *Codec {
	t.Helper()

	codec, err := New(Config{SecretKey: testSecret, Clock: c})
	require.NoError(t, err)
	return codec
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		codec, err := New(Config{SecretKey: testSecret})

		require.NoError(t, err)
		require.Equal(t, "HS256", codec.method.Alg())
		require.IsType(t, clock.System{}, codec.clock)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := New(Config{})

		require.Error(t, err)
	})

	t.Run("non hmac alg", func(t *testing.T) {
		for _, alg := range []string{"RS256", "none", "unknown"} {
			_, err := New(Config{SecretKey: testSecret, Alg: alg})

			require.Error(t, err, "alg %s must be rejected", alg)
		}
	})
}

func TestCodec_SignVerify(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("roundtrip", func(t *testing.T) {
		codec := newCodec(t, clock.NewFake(now))

		token, signed, err := codec.Sign("alice@example.com", ClassAccess, 30*time.Minute)
		require.NoError(t, err)

		got, err := codec.Verify(token)
		require.NoError(t, err)
		require.Equal(t, "alice@example.com", got.Subject)
		require.Equal(t, ClassAccess, got.Class)
		require.Equal(t, now.Add(30*time.Minute), got.ExpiresAt.Time.UTC())
		require.Equal(t, now, got.IssuedAt.Time.UTC())
		require.NotEmpty(t, got.ID, "jti must be set")
		require.Equal(t, signed.ID, got.ID)
	})

	t.Run("type claim on the wire", func(t *testing.T) {
		codec := newCodec(t, clock.NewFake(now))
		token, _, err := codec.Sign("alice@example.com", ClassRefresh, time.Hour)
		require.NoError(t, err)

		mapClaims := jwt.MapClaims{}
		_, _, err = jwt.NewParser().ParseUnverified(token, mapClaims)
		require.NoError(t, err)

		require.Equal(t, "refresh", mapClaims["type"])
		require.Equal(t, "alice@example.com", mapClaims["sub"])
	})

	t.Run("every token has a fresh jti", func(t *testing.T) {
		codec := newCodec(t, clock.NewFake(now))

		first, _, err := codec.Sign("alice@example.com", ClassAccess, time.Minute)
		require.NoError(t, err)
		second, _, err := codec.Sign("alice@example.com", ClassAccess, time.Minute)
		require.NoError(t, err)

		require.NotEqual(t, first, second)
	})

	t.Run("expiry", func(t *testing.T) {
		fake := clock.NewFake(now)
		codec := newCodec(t, fake)
		token, _, err := codec.Sign("alice@example.com", ClassAccess, time.Minute)
		require.NoError(t, err)

		fake.Advance(time.Minute)
		_, err = codec.Verify(token)
		require.NoError(t, err, "token is valid at the expiry instant")

		fake.Advance(time.Second)
		_, err = codec.Verify(token)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("fractional ttl rounded up", func(t *testing.T) {
		fake := clock.NewFake(now)
		codec := newCodec(t, fake)
		token, signed, err := codec.Sign("alice@example.com", ClassAccess, 1500*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, now.Add(2*time.Second), signed.ExpiresAt.Time.UTC())

		fake.Advance(1200 * time.Millisecond)
		_, err = codec.Verify(token)
		require.NoError(t, err, "token must live at least its ttl")

		fake.Advance(time.Second)
		_, err = codec.Verify(token)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	})

	t.Run("sign rejects bad input", func(t *testing.T) {
		codec := newCodec(t, clock.NewFake(now))

		_, _, errSubject := codec.Sign("", ClassAccess, time.Minute)
		_, _, errClass := codec.Sign("alice@example.com", Class("id"), time.Minute)
		_, _, errTTL := codec.Sign("alice@example.com", ClassAccess, 0)

		require.Error(t, errSubject)
		require.Error(t, errClass)
		require.Error(t, errTTL)
	})
}

func TestCodec_VerifyRejects(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	codec := newCodec(t, clock.NewFake(now))
	valid, _, err := codec.Sign("alice@example.com", ClassAccess, time.Hour)
	require.NoError(t, err)

	signWith := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	goodClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Class: ClassAccess,
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "garbage",
			token:   "not-a-token",
			wantErr: apperrors.ErrTokenMalformed,
		},
		{
			name:    "empty",
			token:   "",
			wantErr: apperrors.ErrTokenMalformed,
		},
		{
			name:    "tampered payload",
			token:   tamper(valid),
			wantErr: apperrors.ErrTokenSignature,
		},
		{
			name:    "other secret",
			token:   signWith(jwt.SigningMethodHS256, []byte("other-secret"), goodClaims),
			wantErr: apperrors.ErrTokenSignature,
		},
		{
			name:    "other hmac alg",
			token:   signWith(jwt.SigningMethodHS512, []byte(testSecret), goodClaims),
			wantErr: apperrors.ErrTokenSignature,
		},
		{
			name:    "alg none",
			token:   signWith(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, goodClaims),
			wantErr: apperrors.ErrTokenSignature,
		},
		{
			name: "no class",
			token: signWith(jwt.SigningMethodHS256, []byte(testSecret), Claims{
				RegisteredClaims: goodClaims.RegisteredClaims,
			}),
			wantErr: apperrors.ErrTokenMalformed,
		},
		{
			name: "no expiry",
			token: signWith(jwt.SigningMethodHS256, []byte(testSecret), Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "alice@example.com"},
				Class:            ClassAccess,
			}),
			wantErr: apperrors.ErrTokenMalformed,
		},
		{
			name: "no subject",
			token: signWith(jwt.SigningMethodHS256, []byte(testSecret), Claims{
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: goodClaims.ExpiresAt},
				Class:            ClassAccess,
			}),
			wantErr: apperrors.ErrTokenMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.token)

			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "every failure must collapse to token invalid")
		})
	}
}

// tamper swaps the payload of a token keeping its signature
func tamper(token string) string {
	parts := strings.Split(token, ".")
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "mallory@example.com", "type": "access"})
	forged, _ := other.SignedString([]byte("whatever"))
	parts[1] = strings.Split(forged, ".")[1]
	return strings.Join(parts, ".")
}
