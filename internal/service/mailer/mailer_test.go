package mailer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatr/internal/logger"
)

func TestVerificationMessage(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		token   string
		link    string
	}{
		{
			name:    "plain",
			baseURL: "https://chatr.example.com",
			token:   "3f1c2d9a-6a55-4f0f-9c3a-7f5ad0f3b3e1",
			link:    "https://chatr.example.com/verify-email?token=3f1c2d9a-6a55-4f0f-9c3a-7f5ad0f3b3e1",
		},
		{
			name:    "trailing slash",
			baseURL: "http://localhost:3000/",
			token:   "abc",
			link:    "http://localhost:3000/verify-email?token=abc",
		},
		{
			name:    "token escaped",
			baseURL: "http://localhost:3000",
			token:   "a b&c",
			link:    "http://localhost:3000/verify-email?token=a+b%26c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := VerificationMessage(tt.baseURL, "alice@example.com", tt.token)

			require.Equal(t, "alice@example.com", msg.To)
			require.NotEmpty(t, msg.Subject)
			require.Contains(t, msg.Body, tt.link)
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("throttled")
	err := NewError(CodeRetryAfter, 5*time.Second, cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "retry-after")
	require.Contains(t, err.Error(), "5s")
}

func TestLogSender(t *testing.T) {
	require.NoError(t, LogSender{}.Send(t.Context(), Message{To: "alice@example.com"}))
	require.NoError(t, LogSender{Logger: logger.NewNoOpLogger()}.Send(t.Context(), Message{To: "alice@example.com"}))

	msg := VerificationMessage("http://localhost:3000", "alice@example.com", "live-token")

	t.Run("link hidden at info", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := logger.NewWriter(&buf, logger.EnvDev, logger.LevelInfo)
		require.NoError(t, err)

		require.NoError(t, LogSender{Logger: l}.Send(t.Context(), msg))

		require.Contains(t, buf.String(), "alice@example.com")
		require.NotContains(t, buf.String(), "live-token")
	})

	t.Run("link shown at debug", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := logger.NewWriter(&buf, logger.EnvDev, logger.LevelDebug)
		require.NoError(t, err)

		require.NoError(t, LogSender{Logger: l}.Send(t.Context(), msg))

		require.Contains(t, buf.String(), "live-token")
	})
}
