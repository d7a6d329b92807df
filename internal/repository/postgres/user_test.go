package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgres(t)

	t.Run("create user ok", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			user := newUser("alice", "alice@example.com")

			got, err := repo.CreateUser(t.Context(), user)

			require.NoError(t, err)
			require.Equal(t, user.ID, got.ID)
			require.Equal(t, "alice", got.Username)
			require.Equal(t, "alice@example.com", got.Email)
			require.Equal(t, "hashed-password", got.HashedPassword)
			require.False(t, got.Verified, "new user must not be verified")
			require.Nil(t, got.VerifiedAt)
			require.WithinDuration(t, user.CreatedAt, got.CreatedAt, 0)
		})
	})

	t.Run("create user with taken username", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			_, err := repo.CreateUser(t.Context(), newUser("alice", "alice@example.com"))
			require.NoError(t, err)

			_, err = repo.CreateUser(t.Context(), newUser("alice", "other@example.com"))

			require.ErrorIs(t, err, apperrors.ErrUsernameTaken)
			require.ErrorIs(t, err, apperrors.ErrConflict)
		})
	})

	t.Run("create user with taken email differs in case", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			_, err := repo.CreateUser(t.Context(), newUser("alice", "alice@example.com"))
			require.NoError(t, err)

			_, err = repo.CreateUser(t.Context(), newUser("bob", "ALICE@example.com"))

			require.ErrorIs(t, err, apperrors.ErrEmailTaken, "email uniqueness must be case-insensitive")
		})
	})

	t.Run("get user", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			created, err := repo.CreateUser(t.Context(), newUser("alice", "alice@example.com"))
			require.NoError(t, err)

			byID, err := repo.GetUserByID(t.Context(), created.ID)
			require.NoError(t, err)
			byEmail, err := repo.GetUserByEmail(t.Context(), "Alice@Example.com")
			require.NoError(t, err)
			byUsername, err := repo.GetUserByUsername(t.Context(), "alice")
			require.NoError(t, err)

			assert.Equal(t, created, byID)
			assert.Equal(t, created, byEmail)
			assert.Equal(t, created, byUsername)
		})
	})

	t.Run("get not existed user", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			_, errID := repo.GetUserByID(t.Context(), uuid.New())
			_, errEmail := repo.GetUserByEmail(t.Context(), "nobody@example.com")
			_, errUsername := repo.GetUserByUsername(t.Context(), "nobody")

			assert.ErrorIs(t, errID, apperrors.ErrSubjectNotFound)
			assert.ErrorIs(t, errEmail, apperrors.ErrSubjectNotFound)
			assert.ErrorIs(t, errUsername, apperrors.ErrSubjectNotFound)
		})
	})

	t.Run("update user verified", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			user, err := repo.CreateUser(t.Context(), newUser("alice", "alice@example.com"))
			require.NoError(t, err)
			verifiedAt := mustParseTime("2025-01-02 10:00:00Z")
			user.Verified = true
			user.VerifiedAt = &verifiedAt

			err = repo.UpdateUser(t.Context(), user)
			require.NoError(t, err)

			got, err := repo.GetUserByID(t.Context(), user.ID)
			require.NoError(t, err)
			require.True(t, got.Verified)
			require.NotNil(t, got.VerifiedAt)
			require.WithinDuration(t, verifiedAt, *got.VerifiedAt, time.Microsecond)
		})
	})

	t.Run("update not existed user", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			err := repo.UpdateUser(t.Context(), newUser("ghost", "ghost@example.com"))

			require.ErrorIs(t, err, apperrors.ErrSubjectNotFound)
		})
	})
}
