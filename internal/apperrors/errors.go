package apperrors

import (
	"errors"
	"fmt"
)

// Error categories. Callers match on these with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid or expired")
	ErrVerificationFailed = errors.New("invalid or expired verification token")
	ErrSubjectNotFound    = errors.New("subject not found")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrDeliveryFailure    = errors.New("email delivery failed")
)

var (
	ErrEmptyField    = fmt.Errorf("required field is empty: %w", ErrValidation)
	ErrInvalidEmail  = fmt.Errorf("email is not valid: %w", ErrValidation)
	ErrInvalidName   = fmt.Errorf("username is not valid: %w", ErrValidation)
	ErrWeakPassword  = fmt.Errorf("password is too short: %w", ErrValidation)
	ErrEmailTaken    = fmt.Errorf("email already registered: %w", ErrConflict)
	ErrUsernameTaken = fmt.Errorf("username already exists: %w", ErrConflict)

	// Internal distinctions, logged but collapsed to ErrTokenInvalid for callers
	ErrTokenExpired    = fmt.Errorf("token expired: %w", ErrTokenInvalid)
	ErrTokenMalformed  = fmt.Errorf("token malformed: %w", ErrTokenInvalid)
	ErrTokenSignature  = fmt.Errorf("token signature invalid: %w", ErrTokenInvalid)
	ErrTokenWrongClass = fmt.Errorf("token class mismatch: %w", ErrTokenInvalid)
	ErrTokenRevoked    = fmt.Errorf("token revoked: %w", ErrTokenInvalid)

	ErrVerificationTokenNotFound = fmt.Errorf("verification token not found: %w", ErrVerificationFailed)
	ErrVerificationTokenUsed     = fmt.Errorf("verification token already used: %w", ErrVerificationFailed)
	ErrVerificationTokenExpired  = fmt.Errorf("verification token expired: %w", ErrVerificationFailed)
)
