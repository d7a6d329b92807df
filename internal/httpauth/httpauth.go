// Package httpauth guards net/http handlers with bearer access tokens.
package httpauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/logger"
	"github.com/nkiryanov/chatr/internal/models"
)

const (
	authHeaderName = "Authorization"
	authScheme     = "Bearer"
	tokenQueryName = "token"
)

type Authenticator interface {
	Authenticate(ctx context.Context, access string) (models.User, error)
}

type ctxKey string

const subjectKey ctxKey = "subject"

// Create a new context with the authenticated user
func NewContext(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, subjectKey, u)
}

// Extract the authenticated user from the context
func SubjectFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(subjectKey).(models.User)
	return u, ok
}

// BearerToken returns the token of the Authorization header,
// or of the token query parameter if the header is absent.
func BearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get(authHeaderName); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, authScheme) {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}

	token := r.URL.Query().Get(tokenQueryName)
	return token, token != ""
}

// RequireSubject lets the request through only with a valid access token.
// Every failure gets the same 401 body; unverified users get 403 when the gate is on.
func RequireSubject(auth Authenticator, l logger.Logger) func(http.Handler) http.Handler {
	l = logger.OrNoOp(l)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			switch {
			case errors.Is(err, apperrors.ErrEmailNotVerified):
				ServiceError(w, "Email not verified", http.StatusForbidden)
				return
			case errors.Is(err, apperrors.ErrTokenInvalid), errors.Is(err, apperrors.ErrSubjectNotFound):
				l.Debug("Request rejected", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			case err != nil:
				l.Error("Failed to authenticate request", "path", r.URL.Path, "error", err)
				ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authScheme)
	ServiceError(w, "Unauthorized", http.StatusUnauthorized)
}
