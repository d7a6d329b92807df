package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/clock"
	"github.com/nkiryanov/chatr/internal/logger"
	"github.com/nkiryanov/chatr/internal/metrics"
	"github.com/nkiryanov/chatr/internal/models"
	"github.com/nkiryanov/chatr/internal/repository"
	"github.com/nkiryanov/chatr/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/chatr/internal/service/mailer"
	"github.com/nkiryanov/chatr/internal/service/verification"
)

const (
	DefaultMinPasswordLength = 6

	// Messages of ConfirmEmailVerification, safe to show to anyone
	MessageEmailVerified       = "Email verified successfully!"
	MessageVerificationInvalid = "Invalid or expired verification token"

	// Hashed when login email is unknown so both paths cost the same
	dummyPassword = "chatr-dummy-password"
)

const tracerName = "github.com/nkiryanov/chatr/internal/service/auth"

var validate = validator.New()

// Mailer accepts messages for background delivery
type Mailer interface {
	Enqueue(msg mailer.Message) error
}

type Config struct {
	// Minimal password length in runes, DefaultMinPasswordLength if zero
	MinPasswordLength int

	// Reject authenticated calls of users whose email is not confirmed yet
	RequireVerified bool

	// Base url of verification links sent by email
	VerifyBaseURL string

	// Hasher to use during registration and login. Bcrypt if not set.
	Hasher PasswordHasher

	// Verification emails are not sent if nil
	Mailer Mailer

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Global provider if nil
	TracerProvider trace.TracerProvider
}

// Result of a successful registration
type Registration struct {
	models.Session
	Verification models.VerificationToken
}

// Auth service: the single entry point for registration, login,
// token refresh and email verification
type Service struct {
	storage  repository.Storage
	tokens   *tokenmanager.TokenManager
	verifier *verification.Service

	hasher            PasswordHasher
	mailer            Mailer
	minPasswordLength int
	requireVerified   bool
	verifyBaseURL     string

	clock   clock.Clock
	logger  logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	dummyHash func() (string, error)
}

func NewService(cfg Config, storage repository.Storage, tokens *tokenmanager.TokenManager, verifier *verification.Service) (*Service, error) {
	if storage == nil || tokens == nil || verifier == nil {
		return nil, errors.New("storage, token manager and verifier must not be nil")
	}

	if cfg.MinPasswordLength == 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if cfg.MinPasswordLength < DefaultMinPasswordLength {
		return nil, fmt.Errorf("min password length must be at least %d, got %d", DefaultMinPasswordLength, cfg.MinPasswordLength)
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Service{
		storage:           storage,
		tokens:            tokens,
		verifier:          verifier,
		hasher:            hasher,
		mailer:            cfg.Mailer,
		minPasswordLength: cfg.MinPasswordLength,
		requireVerified:   cfg.RequireVerified,
		verifyBaseURL:     cfg.VerifyBaseURL,
		clock:             clock.OrSystem(cfg.Clock),
		logger:            logger.OrNoOp(cfg.Logger),
		metrics:           cfg.Metrics,
		tracer:            tp.Tracer(tracerName),
		dummyHash:         sync.OnceValues(func() (string, error) { return hasher.Hash(dummyPassword) }),
	}, nil
}

type registerInput struct {
	Email    string `validate:"required,email,max=100"`
	Username string `validate:"required,max=50"`
	Password string `validate:"required"`
}

// Register creates a user, signs the first token pair and schedules the verification email.
// Validation and conflict errors are returned before anything is written.
func (s *Service) Register(ctx context.Context, email string, password string, username string) (reg Registration, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, "register", err) }()

	in := registerInput{
		Email:    normalizeEmail(email),
		Username: strings.TrimSpace(username),
		Password: password,
	}
	if err := s.validateRegistration(in); err != nil {
		return reg, err
	}

	if err := s.checkAvailable(ctx, in.Email, in.Username); err != nil {
		return reg, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return reg, oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}

	// User and the first verification token are committed together
	var user models.User
	var token models.VerificationToken
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		user, err = tx.User().CreateUser(ctx, models.User{
			CreatedAt:      s.clock.Now(),
			Username:       in.Username,
			Email:          in.Email,
			HashedPassword: hash,
		})
		if err != nil {
			return err
		}

		token, err = s.verifier.WithStorage(tx).Issue(ctx, user.ID)
		return err
	})
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		return reg, err
	case err != nil:
		return reg, oops.Code("AUTH_REGISTER_FAILED").With("email", in.Email).Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	pair, err := s.tokens.IssuePair(user.Email)
	if err != nil {
		s.logger.Error("User registered but token pair not issued", "user_id", user.ID, "error", err)
		return reg, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}

	s.sendVerification(user, token)

	s.logger.Info("User registered", "user_id", user.ID)
	return Registration{
		Session:      models.Session{User: user, Pair: pair},
		Verification: token,
	}, nil
}

// Login checks credentials. Unknown email and wrong password are not distinguished.
func (s *Service) Login(ctx context.Context, email string, password string) (session models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, "login", err) }()

	user, err := s.storage.User().GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrSubjectNotFound):
		// Burn the same CPU as a real comparison
		if hash, hashErr := s.dummyHash(); hashErr == nil {
			s.hasher.Verify(password, hash)
		}
		s.logger.Debug("Login rejected: unknown email")
		return session, apperrors.ErrInvalidCredentials
	case err != nil:
		return session, oops.Code("AUTH_LOGIN_FAILED").Wrap(err)
	}

	if !s.hasher.Verify(password, user.HashedPassword) {
		s.logger.Debug("Login rejected: wrong password", "user_id", user.ID)
		return session, apperrors.ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.Email)
	if err != nil {
		return session, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}

	return models.Session{User: user, Pair: pair}, nil
}

// Refresh rotates the pair. The presented refresh token is revoked, so it works once.
func (s *Service) Refresh(ctx context.Context, refresh string) (session models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { s.finish(span, "refresh", err) }()

	claims, err := s.tokens.VerifyRefresh(ctx, refresh)
	if err != nil {
		return session, err
	}

	err = s.tokens.Revoke(ctx, claims)
	switch {
	case errors.Is(err, apperrors.ErrTokenRevoked):
		s.logger.Warn("Refresh token replayed", "subject", claims.Subject, "jti", claims.ID)
		return session, err
	case err != nil:
		return session, oops.Code("AUTH_REFRESH_FAILED").Wrap(err)
	}

	user, err := s.subject(ctx, claims.Subject)
	if err != nil {
		return session, err
	}

	pair, err := s.tokens.IssuePair(user.Email)
	if err != nil {
		return session, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}

	return models.Session{User: user, Pair: pair}, nil
}

// Authenticate resolves the user an access token was issued to
func (s *Service) Authenticate(ctx context.Context, access string) (user models.User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Authenticate")
	defer func() { s.finish(span, "authenticate", err) }()

	claims, err := s.tokens.VerifyAccess(ctx, access)
	if err != nil {
		return user, err
	}

	user, err = s.subject(ctx, claims.Subject)
	if err != nil {
		return user, err
	}

	if s.requireVerified && !user.Verified {
		return models.User{}, apperrors.ErrEmailNotVerified
	}

	return user, nil
}

// Logout revokes the access token and, if given, the refresh token of the same subject.
// A refresh token revoked earlier does not keep the access token alive.
func (s *Service) Logout(ctx context.Context, access string, refresh string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { s.finish(span, "logout", err) }()

	accessClaims, err := s.tokens.VerifyAccess(ctx, access)
	if err != nil {
		return err
	}

	if refresh != "" {
		refreshClaims, err := s.tokens.VerifyRefresh(ctx, refresh)
		switch {
		case errors.Is(err, apperrors.ErrTokenRevoked):
			// Rotated or logged out already, only the access token is left
			s.logger.Debug("Logout with revoked refresh token", "subject", accessClaims.Subject)
			return s.revoke(ctx, accessClaims.Subject, s.tokens.Revoke(ctx, accessClaims))
		case err != nil:
			return err
		}
		if refreshClaims.Subject != accessClaims.Subject {
			s.logger.Warn("Logout with tokens of different subjects", "access_subject", accessClaims.Subject)
			return fmt.Errorf("%w: tokens belong to different subjects", apperrors.ErrTokenInvalid)
		}
		if err := s.revoke(ctx, refreshClaims.Subject, s.tokens.Revoke(ctx, refreshClaims)); err != nil {
			return err
		}
	}

	return s.revoke(ctx, accessClaims.Subject, s.tokens.Revoke(ctx, accessClaims))
}

// RequestEmailVerification sends a fresh link if the email belongs to an unverified user.
// Always returns nil so callers can't probe which emails are registered.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) error {
	ctx, span := s.tracer.Start(ctx, "auth.RequestEmailVerification")
	var err error
	defer func() { s.finish(span, "request_verification", err) }()

	user, err := s.storage.User().GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrSubjectNotFound):
		s.logger.Debug("Verification requested for unknown email")
		return nil
	case err != nil:
		s.logger.Error("Failed to look up user for verification", "error", err)
		return nil
	case user.Verified:
		s.logger.Debug("Verification requested for verified user", "user_id", user.ID)
		return nil
	}

	token, err := s.verifier.Reissue(ctx, user.ID)
	if err != nil {
		s.logger.Error("Failed to reissue verification token", "user_id", user.ID, "error", err)
		return nil
	}

	s.sendVerification(user, token)
	return nil
}

// ConfirmEmailVerification redeems the token. Expected failures (unknown, used, expired token)
// are reported as an unsuccessful result; err is set for storage failures only.
func (s *Service) ConfirmEmailVerification(ctx context.Context, token string) (result models.VerificationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ConfirmEmailVerification")
	var rejected error
	defer func() { s.finish(span, "confirm_verification", errors.Join(err, rejected)) }()

	user, err := s.verifier.Redeem(ctx, token)
	switch {
	case errors.Is(err, apperrors.ErrVerificationFailed):
		s.logger.Info("Verification token rejected", "reason", err)
		rejected = err
		return models.VerificationResult{Success: false, Message: MessageVerificationInvalid}, nil
	case err != nil:
		return models.VerificationResult{Success: false, Message: MessageVerificationInvalid},
			oops.Code("AUTH_VERIFICATION_FAILED").Wrap(err)
	}

	s.logger.Info("Email verified", "user_id", user.ID)
	return models.VerificationResult{Success: true, Message: MessageEmailVerified}, nil
}

// PruneRevoked drops denylist entries of already expired tokens
func (s *Service) PruneRevoked(ctx context.Context) (int64, error) {
	deleted, err := s.tokens.PruneRevoked(ctx)
	if err != nil {
		return 0, oops.Code("AUTH_PRUNE_FAILED").Wrap(err)
	}
	if deleted > 0 {
		s.logger.Info("Revoked tokens pruned", "count", deleted)
	}
	return deleted, nil
}

func (s *Service) validateRegistration(in registerInput) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
		}

		fe := verrs[0]
		switch {
		case fe.Tag() == "required":
			return fmt.Errorf("%w: %s", apperrors.ErrEmptyField, strings.ToLower(fe.Field()))
		case fe.Field() == "Email":
			return apperrors.ErrInvalidEmail
		default:
			return apperrors.ErrInvalidName
		}
	}

	if utf8.RuneCountInString(in.Password) < s.minPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", apperrors.ErrWeakPassword, s.minPasswordLength)
	}

	return nil
}

// Fast path for a friendly error. The store constraint stays the source of truth.
func (s *Service) checkAvailable(ctx context.Context, email string, username string) error {
	_, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return apperrors.ErrEmailTaken
	case !errors.Is(err, apperrors.ErrSubjectNotFound):
		return oops.Code("AUTH_REGISTER_FAILED").Wrap(err)
	}

	_, err = s.storage.User().GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return apperrors.ErrUsernameTaken
	case !errors.Is(err, apperrors.ErrSubjectNotFound):
		return oops.Code("AUTH_REGISTER_FAILED").Wrap(err)
	}

	return nil
}

func (s *Service) subject(ctx context.Context, email string) (models.User, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrSubjectNotFound):
		s.logger.Error("Valid token for missing user", "subject", email)
		return models.User{}, err
	case err != nil:
		return models.User{}, oops.Code("AUTH_SUBJECT_LOOKUP_FAILED").Wrap(err)
	}
	return user, nil
}

func (s *Service) revoke(ctx context.Context, subject string, err error) error {
	switch {
	case err == nil, errors.Is(err, apperrors.ErrTokenRevoked):
		return nil
	default:
		return oops.Code("AUTH_LOGOUT_FAILED").With("subject", subject).Wrap(err)
	}
}

// Delivery runs in background, failures are logged and never fail the caller
func (s *Service) sendVerification(user models.User, token models.VerificationToken) {
	if s.mailer == nil {
		s.logger.Warn("Mailer not configured, verification email skipped", "user_id", user.ID)
		return
	}

	msg := mailer.VerificationMessage(s.verifyBaseURL, user.Email, token.Token)
	if err := s.mailer.Enqueue(msg); err != nil {
		s.logger.Error("Failed to schedule verification email", "user_id", user.ID, "error", err)
	}
}

// finish closes the span and counts the operation
func (s *Service) finish(span trace.Span, operation string, err error) {
	defer span.End()

	if err == nil {
		s.metrics.AuthOperation(operation, metrics.OutcomeSuccess)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if isExpected(err) {
		s.metrics.AuthOperation(operation, metrics.OutcomeFailure)
		return
	}
	s.metrics.AuthOperation(operation, metrics.OutcomeError)
	s.logger.Error("Auth operation failed", "operation", operation, "error", err)
}

// Caller mistakes as opposed to infrastructure failures
func isExpected(err error) bool {
	for _, target := range []error{
		apperrors.ErrValidation,
		apperrors.ErrConflict,
		apperrors.ErrInvalidCredentials,
		apperrors.ErrTokenInvalid,
		apperrors.ErrVerificationFailed,
		apperrors.ErrSubjectNotFound,
		apperrors.ErrEmailNotVerified,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
