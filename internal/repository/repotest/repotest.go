// Package repotest holds behaviour tests shared by every repository.Storage implementation.
package repotest

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/models"
	"github.com/nkiryanov/chatr/internal/repository"
)

var (
	createdAt = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	expiresAt = createdAt.Add(24 * time.Hour)
)

// Run executes the suite. newStorage must return an empty storage for every call.
func Run(t *testing.T, newStorage func(t *testing.T) repository.Storage) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStorage) })
	t.Run("verification tokens", func(t *testing.T) { testVerification(t, newStorage) })
	t.Run("revoked tokens", func(t *testing.T) { testRevoked(t, newStorage) })
	t.Run("transactions", func(t *testing.T) { testInTx(t, newStorage) })
}

func NewUser(username, email string) models.User {
	return models.User{
		ID:             uuid.New(),
		CreatedAt:      createdAt,
		Username:       username,
		Email:          email,
		HashedPassword: "hashed-password",
	}
}

func testUsers(t *testing.T, newStorage func(t *testing.T) repository.Storage) {
	t.Run("create and get", func(t *testing.T) {
		repo := newStorage(t).User()
		user := NewUser("alice", "alice@example.com")

		created, err := repo.CreateUser(t.Context(), user)
		require.NoError(t, err)

		byID, err := repo.GetUserByID(t.Context(), user.ID)
		require.NoError(t, err)
		byEmail, err := repo.GetUserByEmail(t.Context(), "ALICE@example.com")
		require.NoError(t, err, "email lookup must be case-insensitive")
		byUsername, err := repo.GetUserByUsername(t.Context(), "alice")
		require.NoError(t, err)

		require.Equal(t, user.ID, created.ID)
		require.WithinDuration(t, createdAt, created.CreatedAt, 0)
		assert.Equal(t, created, byID)
		assert.Equal(t, created, byEmail)
		assert.Equal(t, created, byUsername)
	})

	t.Run("conflicts", func(t *testing.T) {
		repo := newStorage(t).User()
		_, err := repo.CreateUser(t.Context(), NewUser("alice", "alice@example.com"))
		require.NoError(t, err)

		_, errName := repo.CreateUser(t.Context(), NewUser("alice", "other@example.com"))
		_, errEmail := repo.CreateUser(t.Context(), NewUser("bob", "Alice@Example.com"))

		require.ErrorIs(t, errName, apperrors.ErrUsernameTaken)
		require.ErrorIs(t, errEmail, apperrors.ErrEmailTaken)
		_, err = repo.GetUserByUsername(t.Context(), "bob")
		require.ErrorIs(t, err, apperrors.ErrSubjectNotFound, "conflicting user must not be stored")
	})

	t.Run("not found", func(t *testing.T) {
		repo := newStorage(t).User()

		_, errID := repo.GetUserByID(t.Context(), uuid.New())
		_, errEmail := repo.GetUserByEmail(t.Context(), "nobody@example.com")
		_, errName := repo.GetUserByUsername(t.Context(), "nobody")
		errUpdate := repo.UpdateUser(t.Context(), NewUser("nobody", "nobody@example.com"))

		assert.ErrorIs(t, errID, apperrors.ErrSubjectNotFound)
		assert.ErrorIs(t, errEmail, apperrors.ErrSubjectNotFound)
		assert.ErrorIs(t, errName, apperrors.ErrSubjectNotFound)
		assert.ErrorIs(t, errUpdate, apperrors.ErrSubjectNotFound)
	})

	t.Run("update", func(t *testing.T) {
		repo := newStorage(t).User()
		user, err := repo.CreateUser(t.Context(), NewUser("alice", "alice@example.com"))
		require.NoError(t, err)
		verifiedAt := createdAt.Add(time.Hour)
		user.Verified = true
		user.VerifiedAt = &verifiedAt
		user.HashedPassword = "new-hash"

		require.NoError(t, repo.UpdateUser(t.Context(), user))

		got, err := repo.GetUserByID(t.Context(), user.ID)
		require.NoError(t, err)
		require.True(t, got.Verified)
		require.NotNil(t, got.VerifiedAt)
		require.WithinDuration(t, verifiedAt, *got.VerifiedAt, 0)
		require.Equal(t, "new-hash", got.HashedPassword)
	})
}

func createToken(t *testing.T, s repository.Storage, userID uuid.UUID) models.VerificationToken {
	t.Helper()

	token, err := s.Verification().Create(t.Context(), models.VerificationToken{
		UserID:    userID,
		Token:     uuid.NewString(),
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return token
}

func testVerification(t *testing.T, newStorage func(t *testing.T) repository.Storage) {
	setup := func(t *testing.T) (repository.Storage, models.VerificationToken) {
		s := newStorage(t)
		user, err := s.User().CreateUser(t.Context(), NewUser("alice", "alice@example.com"))
		require.NoError(t, err)
		return s, createToken(t, s, user.ID)
	}

	t.Run("create and get", func(t *testing.T) {
		s, token := setup(t)

		got, err := s.Verification().GetByToken(t.Context(), token.Token)

		require.NoError(t, err)
		require.Equal(t, token, got)
		require.NotEqual(t, uuid.Nil, got.ID)
		require.Nil(t, got.RedeemedAt)
	})

	t.Run("get not existed", func(t *testing.T) {
		s := newStorage(t)

		_, err := s.Verification().GetByToken(t.Context(), "missing")

		require.ErrorIs(t, err, apperrors.ErrVerificationTokenNotFound)
	})

	t.Run("redeem once", func(t *testing.T) {
		s, token := setup(t)
		now := createdAt.Add(time.Hour)

		first, err := s.Verification().Redeem(t.Context(), token.Token, now)
		require.NoError(t, err)
		second, err := s.Verification().Redeem(t.Context(), token.Token, now)
		require.NoError(t, err)

		require.True(t, first)
		require.False(t, second)
		got, err := s.Verification().GetByToken(t.Context(), token.Token)
		require.NoError(t, err)
		require.NotNil(t, got.RedeemedAt)
		require.WithinDuration(t, now, *got.RedeemedAt, 0)
	})

	t.Run("redeem boundaries", func(t *testing.T) {
		s, atExpiry := setup(t)
		afterExpiry := createToken(t, s, atExpiry.UserID)

		okAt, err := s.Verification().Redeem(t.Context(), atExpiry.Token, expiresAt)
		require.NoError(t, err)
		okAfter, err := s.Verification().Redeem(t.Context(), afterExpiry.Token, expiresAt.Add(time.Microsecond))
		require.NoError(t, err)
		okMissing, err := s.Verification().Redeem(t.Context(), "missing", createdAt)
		require.NoError(t, err)

		assert.True(t, okAt, "token is usable at the expiry instant")
		assert.False(t, okAfter, "token is inert after expiry")
		assert.False(t, okMissing)
	})

	t.Run("concurrent redeem has one winner", func(t *testing.T) {
		s, token := setup(t)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Verification().Redeem(t.Context(), token.Token, createdAt)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, wins.Load())
	})

	t.Run("delete unredeemed", func(t *testing.T) {
		s, redeemed := setup(t)
		pending := createToken(t, s, redeemed.UserID)
		ok, err := s.Verification().Redeem(t.Context(), redeemed.Token, createdAt)
		require.NoError(t, err)
		require.True(t, ok)

		deleted, err := s.Verification().DeleteUnredeemedForUser(t.Context(), redeemed.UserID)

		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)
		_, err = s.Verification().GetByToken(t.Context(), pending.Token)
		require.ErrorIs(t, err, apperrors.ErrVerificationTokenNotFound)
		_, err = s.Verification().GetByToken(t.Context(), redeemed.Token)
		require.NoError(t, err, "redeemed tokens are kept")
	})
}

func testRevoked(t *testing.T, newStorage func(t *testing.T) repository.Storage) {
	t.Run("revoke and check", func(t *testing.T) {
		repo := newStorage(t).Revoked()
		jti := uuid.NewString()

		first, err := repo.Revoke(t.Context(), jti, expiresAt)
		require.NoError(t, err)
		second, err := repo.Revoke(t.Context(), jti, expiresAt)
		require.NoError(t, err, "revoke must be idempotent")
		require.True(t, first)
		require.False(t, second, "only the first revoke adds the entry")

		revoked, err := repo.IsRevoked(t.Context(), jti)
		require.NoError(t, err)
		require.True(t, revoked)

		revoked, err = repo.IsRevoked(t.Context(), uuid.NewString())
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("delete expired", func(t *testing.T) {
		repo := newStorage(t).Revoked()
		expired, alive := uuid.NewString(), uuid.NewString()
		_, err := repo.Revoke(t.Context(), expired, createdAt)
		require.NoError(t, err)
		_, err = repo.Revoke(t.Context(), alive, expiresAt)
		require.NoError(t, err)

		deleted, err := repo.DeleteExpired(t.Context(), createdAt.Add(time.Second))

		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)
		revoked, err := repo.IsRevoked(t.Context(), alive)
		require.NoError(t, err)
		require.True(t, revoked)
	})
}

func testInTx(t *testing.T, newStorage func(t *testing.T) repository.Storage) {
	t.Run("commit", func(t *testing.T) {
		s := newStorage(t)

		err := s.InTx(t.Context(), func(tx repository.Storage) error {
			user, err := tx.User().CreateUser(t.Context(), NewUser("alice", "alice@example.com"))
			if err != nil {
				return err
			}
			_, err = tx.Verification().Create(t.Context(), models.VerificationToken{
				UserID: user.ID, Token: "committed", CreatedAt: createdAt, ExpiresAt: expiresAt,
			})
			return err
		})
		require.NoError(t, err)

		_, err = s.User().GetUserByUsername(t.Context(), "alice")
		require.NoError(t, err)
		_, err = s.Verification().GetByToken(t.Context(), "committed")
		require.NoError(t, err)
	})

	t.Run("rollback", func(t *testing.T) {
		s := newStorage(t)
		boom := errors.New("boom")

		err := s.InTx(t.Context(), func(tx repository.Storage) error {
			if _, err := tx.User().CreateUser(t.Context(), NewUser("alice", "alice@example.com")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.User().GetUserByUsername(t.Context(), "alice")
		require.ErrorIs(t, err, apperrors.ErrSubjectNotFound, "rolled back user must not be visible")
	})
}
