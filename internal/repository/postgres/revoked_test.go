package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatr/internal/testutil"
)

func Test_RevokedTokenRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgres(t)

	expiresAt := mustParseTime("2025-01-01 10:00:00Z")

	t.Run("revoke is idempotent", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := RevokedTokenRepo{DB: tx}
			jti := uuid.NewString()

			first, err := repo.Revoke(t.Context(), jti, expiresAt)
			require.NoError(t, err)
			second, err := repo.Revoke(t.Context(), jti, expiresAt)
			require.NoError(t, err, "second revoke must not fail")
			require.True(t, first)
			require.False(t, second)

			revoked, err := repo.IsRevoked(t.Context(), jti)
			require.NoError(t, err)
			require.True(t, revoked)
		})
	})

	t.Run("unknown jti is not revoked", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := RevokedTokenRepo{DB: tx}

			revoked, err := repo.IsRevoked(t.Context(), uuid.NewString())

			require.NoError(t, err)
			require.False(t, revoked)
		})
	})

	t.Run("delete expired", func(t *testing.T) {
		testutil.RollbackTx(t, pg.Pool, func(tx pgx.Tx) {
			repo := RevokedTokenRepo{DB: tx}
			expired, alive := uuid.NewString(), uuid.NewString()
			_, err := repo.Revoke(t.Context(), expired, expiresAt)
			require.NoError(t, err)
			_, err = repo.Revoke(t.Context(), alive, expiresAt.AddDate(0, 0, 1))
			require.NoError(t, err)

			deleted, err := repo.DeleteExpired(t.Context(), expiresAt.Add(1))

			require.NoError(t, err)
			require.EqualValues(t, 1, deleted)
			revoked, err := repo.IsRevoked(t.Context(), alive)
			require.NoError(t, err)
			require.True(t, revoked, "not expired entry must stay")
		})
	})
}
