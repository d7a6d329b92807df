package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, env string, level string) (Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	l, err := NewWriter(&buf, env, level)
	require.NoError(t, err)

	return l, &buf
}

func TestLogger_parseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLevel(tt.input)

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "verbose", "warning"} {
		t.Run("bad "+bad, func(t *testing.T) {
			_, err := parseLevel(bad)

			require.Error(t, err)
		})
	}
}

func TestLogger_New(t *testing.T) {
	t.Run("writes to stderr", func(t *testing.T) {
		orig := os.Stderr
		r, w, err := os.Pipe()
		require.NoError(t, err)
		os.Stderr = w
		defer func() { os.Stderr = orig }()

		l, err := New(EnvDev, LevelInfo)
		require.NoError(t, err)
		l.Info("to stderr")
		require.NoError(t, w.Close())

		out, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Contains(t, string(out), "to stderr")
	})

	t.Run("unknown environment", func(t *testing.T) {
		_, err := New("staging", LevelInfo)

		require.Error(t, err)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := New(EnvDev, "verbose")

		require.Error(t, err)
	})
}

func TestLogger_Formats(t *testing.T) {
	t.Run("dev is text", func(t *testing.T) {
		l, buf := newBuffered(t, EnvDev, LevelInfo)

		l.Info("user registered", "user_id", 42)

		require.Contains(t, buf.String(), "level=INFO")
		require.Contains(t, buf.String(), `msg="user registered"`)
		require.Contains(t, buf.String(), "user_id=42")
	})

	t.Run("prod is json", func(t *testing.T) {
		l, buf := newBuffered(t, EnvProd, LevelInfo)

		l.Warn("user registered", "user_id", 42)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.Equal(t, "WARN", entry["level"])
		require.Equal(t, "user registered", entry["msg"])
		require.EqualValues(t, 42, entry["user_id"])
	})

	t.Run("source is the caller file", func(t *testing.T) {
		l, buf := newBuffered(t, EnvProd, LevelInfo)

		l.Error("boom")

		var entry struct {
			Source struct {
				File string `json:"file"`
			} `json:"source"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.Equal(t, "logger_test.go", entry.Source.File)
	})
}

func TestLogger_Levels(t *testing.T) {
	emit := map[string]func(Logger){
		LevelDebug: func(l Logger) { l.Debug("msg") },
		LevelInfo:  func(l Logger) { l.Info("msg") },
		LevelWarn:  func(l Logger) { l.Warn("msg") },
		LevelError: func(l Logger) { l.Error("msg") },
	}
	order := []string{LevelDebug, LevelInfo, LevelWarn, LevelError}

	for i, configured := range order {
		for j, called := range order {
			t.Run(configured+" logger, "+called+" call", func(t *testing.T) {
				l, buf := newBuffered(t, EnvDev, configured)

				emit[called](l)

				require.Equal(t, j >= i, buf.Len() > 0)
			})
		}
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newBuffered(t, EnvDev, LevelInfo)

	l.With("component", "mailer").WithGroup("msg").Info("sent", "to", "alice@example.com")

	require.Contains(t, buf.String(), "component=mailer")
	require.Contains(t, buf.String(), "msg.to=alice@example.com")
}

func TestLogger_Redacts(t *testing.T) {
	l, buf := newBuffered(t, EnvDev, LevelDebug)

	l.Debug("login", "password", "secret1", "Token", "abc.def.ghi", "user_id", 7)

	out := buf.String()
	require.NotContains(t, out, "secret1")
	require.NotContains(t, out, "abc.def.ghi")
	require.Equal(t, 2, strings.Count(out, redacted))
	require.Contains(t, out, "user_id=7")
}

func TestLogger_NoOp(t *testing.T) {
	require.NotNil(t, OrNoOp(nil))

	l := NewNoOpLogger()
	require.Same(t, l, OrNoOp(l))
	l.Error("discarded")
}
