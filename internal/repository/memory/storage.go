// Package memory is a process-local repository.Storage. Data is lost on exit.
package memory

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/models"
	"github.com/nkiryanov/chatr/internal/repository"
)

type state struct {
	users   map[uuid.UUID]models.User
	tokens  map[string]models.VerificationToken
	revoked map[string]time.Time
}

func (s state) clone() state {
	return state{
		users:   maps.Clone(s.users),
		tokens:  maps.Clone(s.tokens),
		revoked: maps.Clone(s.revoked),
	}
}

type store struct {
	mu sync.Mutex
	state
}

// Storage is safe for concurrent use.
// Inside InTx the whole store is locked until fn returns.
type Storage struct {
	s      *store
	locked bool
}

func NewStorage() *Storage {
	return &Storage{s: &store{state: state{
		users:   make(map[uuid.UUID]models.User),
		tokens:  make(map[string]models.VerificationToken),
		revoked: make(map[string]time.Time),
	}}}
}

func (st *Storage) User() repository.UserRepo {
	return &UserRepo{st: st}
}

func (st *Storage) Verification() repository.VerificationTokenRepo {
	return &VerificationTokenRepo{st: st}
}

func (st *Storage) Revoked() repository.RevokedTokenRepo {
	return &RevokedTokenRepo{st: st}
}

// InTx restores the state captured before fn if fn fails
func (st *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if st.locked {
		return fn(st)
	}

	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	snapshot := st.s.state.clone()
	err := fn(&Storage{s: st.s, locked: true})
	if err != nil {
		st.s.state = snapshot
	}
	return err
}

func (st *Storage) do(fn func(s *state) error) error {
	if !st.locked {
		st.s.mu.Lock()
		defer st.s.mu.Unlock()
	}
	return fn(&st.s.state)
}

type UserRepo struct {
	st *Storage
}

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	err := r.st.do(func(s *state) error {
		for _, u := range s.users {
			switch {
			case u.Username == user.Username:
				return apperrors.ErrUsernameTaken
			case strings.EqualFold(u.Email, user.Email):
				return apperrors.ErrEmailTaken
			}
		}
		s.users[user.ID] = user
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return r.find(func(u models.User) bool { return u.ID == userID })
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.find(func(u models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.find(func(u models.User) bool { return u.Username == username })
}

func (r *UserRepo) UpdateUser(ctx context.Context, user models.User) error {
	return r.st.do(func(s *state) error {
		stored, ok := s.users[user.ID]
		if !ok {
			return apperrors.ErrSubjectNotFound
		}
		stored.HashedPassword = user.HashedPassword
		stored.Verified = user.Verified
		stored.VerifiedAt = user.VerifiedAt
		s.users[user.ID] = stored
		return nil
	})
}

func (r *UserRepo) find(match func(models.User) bool) (models.User, error) {
	var found models.User
	err := r.st.do(func(s *state) error {
		for _, u := range s.users {
			if match(u) {
				found = u
				return nil
			}
		}
		return apperrors.ErrSubjectNotFound
	})
	return found, err
}

type VerificationTokenRepo struct {
	st *Storage
}

func (r *VerificationTokenRepo) Create(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	err := r.st.do(func(s *state) error {
		if _, ok := s.users[token.UserID]; !ok {
			return apperrors.ErrSubjectNotFound
		}
		if _, ok := s.tokens[token.Token]; ok {
			return apperrors.ErrConflict
		}
		s.tokens[token.Token] = token
		return nil
	})
	if err != nil {
		return models.VerificationToken{}, err
	}
	return token, nil
}

func (r *VerificationTokenRepo) GetByToken(ctx context.Context, token string) (models.VerificationToken, error) {
	var found models.VerificationToken
	err := r.st.do(func(s *state) error {
		t, ok := s.tokens[token]
		if !ok {
			return apperrors.ErrVerificationTokenNotFound
		}
		found = t
		return nil
	})
	return found, err
}

func (r *VerificationTokenRepo) Redeem(ctx context.Context, token string, now time.Time) (bool, error) {
	var redeemed bool
	err := r.st.do(func(s *state) error {
		t, ok := s.tokens[token]
		if !ok || !t.Usable(now) {
			return nil
		}
		t.RedeemedAt = &now
		s.tokens[token] = t
		redeemed = true
		return nil
	})
	return redeemed, err
}

func (r *VerificationTokenRepo) DeleteUnredeemedForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var deleted int64
	err := r.st.do(func(s *state) error {
		for key, t := range s.tokens {
			if t.UserID == userID && t.RedeemedAt == nil {
				delete(s.tokens, key)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

type RevokedTokenRepo struct {
	st *Storage
}

func (r *RevokedTokenRepo) Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	var added bool
	err := r.st.do(func(s *state) error {
		if _, ok := s.revoked[jti]; !ok {
			s.revoked[jti] = expiresAt
			added = true
		}
		return nil
	})
	return added, err
}

func (r *RevokedTokenRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.st.do(func(s *state) error {
		_, revoked = s.revoked[jti]
		return nil
	})
	return revoked, err
}

func (r *RevokedTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := r.st.do(func(s *state) error {
		for jti, expiresAt := range s.revoked {
			if expiresAt.Before(now) {
				delete(s.revoked, jti)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}
