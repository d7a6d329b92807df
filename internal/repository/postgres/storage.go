package postgres

import (
	"context"
	"fmt"

	"github.com/nkiryanov/chatr/internal/repository"
)

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) *Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Verification() repository.VerificationTokenRepo {
	return &VerificationTokenRepo{DB: s.db}
}

func (s *Storage) Revoked() repository.RevokedTokenRepo {
	return &RevokedTokenRepo{DB: s.db}
}

// InTx runs fn against a storage bound to a single transaction.
// Nested calls open a savepoint on the outer transaction.
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			if cErr := tx.Commit(ctx); cErr != nil {
				err = fmt.Errorf("db commit error: %w", cErr)
			}
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}
