package mailer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBrevoSender(t *testing.T) {
	_, errKey := NewBrevoSender(BrevoConfig{From: "noreply@example.com"}, nil)
	_, errFrom := NewBrevoSender(BrevoConfig{APIKey: "key"}, nil)
	s, err := NewBrevoSender(BrevoConfig{APIKey: "key", From: "noreply@example.com"}, nil)

	require.Error(t, errKey)
	require.Error(t, errFrom)
	require.NoError(t, err)
	require.Equal(t, defaultBrevoEndpoint, s.cfg.Endpoint)
}

func TestBrevoSender_Send(t *testing.T) {
	msg := Message{To: "alice@example.com", Subject: "Confirm your email", Body: "link"}

	t.Run("ok", func(t *testing.T) {
		var got brevoEmail
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "secret-key", r.Header.Get("api-key"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"messageId":"<id@smtp-relay.mailin.fr>"}`))
		}))
		defer srv.Close()
		s, err := NewBrevoSender(BrevoConfig{APIKey: "secret-key", From: "noreply@example.com", Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		err = s.Send(t.Context(), msg)

		require.NoError(t, err)
		require.Equal(t, "noreply@example.com", got.Sender.Email)
		require.Equal(t, []brevoAddress{{Email: "alice@example.com"}}, got.To)
		require.Equal(t, "Confirm your email", got.Subject)
		require.Equal(t, "link", got.TextContent)
	})

	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantCode   string
		wantAfter  time.Duration
	}{
		{"throttled", http.StatusTooManyRequests, "7", CodeRetryAfter, 7 * time.Second},
		{"throttled without header", http.StatusTooManyRequests, "", CodeRetryAfter, time.Minute},
		{"server error", http.StatusBadGateway, "", CodeTemporary, 0},
		{"bad request", http.StatusBadRequest, "", CodePermanent, 0},
		{"unauthorized", http.StatusUnauthorized, "", CodePermanent, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			s, err := NewBrevoSender(BrevoConfig{APIKey: "key", From: "noreply@example.com", Endpoint: srv.URL}, nil)
			require.NoError(t, err)

			err = s.Send(t.Context(), msg)

			var mErr *Error
			require.True(t, errors.As(err, &mErr), "error must be *mailer.Error, got %v", err)
			require.Equal(t, tt.wantCode, mErr.Code)
			require.Equal(t, tt.wantAfter, mErr.RetryAfter)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		s, err := NewBrevoSender(BrevoConfig{APIKey: "key", From: "noreply@example.com", Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		err = s.Send(t.Context(), msg)

		var mErr *Error
		require.ErrorAs(t, err, &mErr)
		require.Equal(t, CodeTemporary, mErr.Code)
	})
}
