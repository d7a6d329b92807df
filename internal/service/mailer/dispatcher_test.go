package mailer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/metrics"
)

// fakeSender fails the first failures calls with err, then succeeds
type fakeSender struct {
	mu       sync.Mutex
	sent     []Message
	calls    atomic.Int32
	failures int32
	err      error
	block    chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, msg Message) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.calls.Add(1) <= s.failures {
		return s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) delivered() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func fastConfig(m *metrics.Metrics) DispatcherConfig {
	return DispatcherConfig{
		CountWorkers: 2,
		QueueSize:    10,
		SendTimeout:  time.Second,
		MaxRetries:   3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		Metrics:      m,
	}
}

func TestDispatcher(t *testing.T) {
	t.Run("delivers and drains on close", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		sender := &fakeSender{}
		d := NewDispatcher(fastConfig(nil), sender)
		d.Start(t.Context())

		for _, to := range []string{"a@example.com", "b@example.com", "c@example.com"} {
			require.NoError(t, d.Enqueue(Message{To: to}))
		}
		require.NoError(t, d.Close(t.Context()))

		require.Len(t, sender.delivered(), 3, "every queued message is delivered before close returns")
	})

	t.Run("retries temporary errors", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		m := metrics.New(prometheus.NewRegistry())
		sender := &fakeSender{failures: 2, err: NewError(CodeTemporary, 0, errors.New("421 try later"))}
		d := NewDispatcher(fastConfig(m), sender)
		d.Start(t.Context())

		require.NoError(t, d.Enqueue(Message{To: "alice@example.com"}))
		require.NoError(t, d.Close(t.Context()))

		require.EqualValues(t, 3, sender.calls.Load())
		require.Len(t, sender.delivered(), 1)
		require.InDelta(t, 1, promtestutil.ToFloat64(m.MailDeliveries.WithLabelValues(metrics.OutcomeSuccess)), 0)
	})

	t.Run("respects retry after", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		sender := &fakeSender{failures: 1, err: NewError(CodeRetryAfter, time.Millisecond, errors.New("throttled"))}
		d := NewDispatcher(fastConfig(nil), sender)
		d.Start(t.Context())

		require.NoError(t, d.Enqueue(Message{To: "alice@example.com"}))
		require.NoError(t, d.Close(t.Context()))

		require.Len(t, sender.delivered(), 1)
	})

	t.Run("gives up on permanent errors", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		m := metrics.New(prometheus.NewRegistry())
		sender := &fakeSender{failures: 100, err: NewError(CodePermanent, 0, errors.New("550 no such user"))}
		d := NewDispatcher(fastConfig(m), sender)
		d.Start(t.Context())

		require.NoError(t, d.Enqueue(Message{To: "ghost@example.com"}))
		require.NoError(t, d.Close(t.Context()))

		require.EqualValues(t, 1, sender.calls.Load(), "permanent error must not be retried")
		require.InDelta(t, 1, promtestutil.ToFloat64(m.MailDeliveries.WithLabelValues(metrics.OutcomeError)), 0)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		sender := &fakeSender{failures: 100, err: errors.New("connection reset")}
		d := NewDispatcher(fastConfig(nil), sender)
		d.Start(t.Context())

		require.NoError(t, d.Enqueue(Message{To: "alice@example.com"}))
		require.NoError(t, d.Close(t.Context()))

		require.EqualValues(t, 4, sender.calls.Load(), "one attempt plus three retries")
		require.Empty(t, sender.delivered())
	})

	t.Run("enqueue does not block when queue is full", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		block := make(chan struct{})
		sender := &fakeSender{block: block}
		cfg := fastConfig(nil)
		cfg.CountWorkers = 1
		cfg.QueueSize = 1
		d := NewDispatcher(cfg, sender)
		d.Start(t.Context())

		var errs []error
		for range 5 {
			errs = append(errs, d.Enqueue(Message{To: "alice@example.com"}))
		}
		close(block)
		require.NoError(t, d.Close(t.Context()))

		require.NoError(t, errs[0])
		require.ErrorIs(t, errs[len(errs)-1], apperrors.ErrDeliveryFailure)
	})

	t.Run("enqueue after close", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		d := NewDispatcher(fastConfig(nil), &fakeSender{})
		d.Start(t.Context())
		require.NoError(t, d.Close(t.Context()))

		err := d.Enqueue(Message{To: "alice@example.com"})

		require.ErrorIs(t, err, apperrors.ErrDeliveryFailure)
		require.NoError(t, d.Close(t.Context()), "close is idempotent")
	})

	t.Run("close gives up on context", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		block := make(chan struct{})
		sender := &fakeSender{block: block}
		cfg := fastConfig(nil)
		cfg.CountWorkers = 1
		d := NewDispatcher(cfg, sender)
		d.Start(t.Context())
		require.NoError(t, d.Enqueue(Message{To: "alice@example.com"}))

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()
		err := d.Close(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		close(block)
		require.NoError(t, d.Close(t.Context()))
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		ctx, cancel := context.WithCancel(t.Context())
		d := NewDispatcher(fastConfig(nil), &fakeSender{})
		stopped := d.Start(ctx)

		cancel()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("dispatcher did not stop on context cancel")
		}
	})
}
