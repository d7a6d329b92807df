package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nkiryanov/chatr/internal/apperrors"
	"github.com/nkiryanov/chatr/internal/logger"
	"github.com/nkiryanov/chatr/internal/metrics"
)

const (
	defaultCountWorkers = 2
	defaultQueueSize    = 100
	defaultSendTimeout  = 10 * time.Second
	defaultMaxRetries   = 3
	defaultBaseBackoff  = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
)

type DispatcherConfig struct {
	CountWorkers int
	QueueSize    int

	// Bound of a single delivery attempt
	SendTimeout time.Duration

	// Exponential backoff between attempts
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Dispatcher delivers messages in background workers.
// Enqueue never blocks; delivery failures are logged and counted, not returned.
type Dispatcher struct {
	cfg    DispatcherConfig
	sender Sender
	logger logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Message

	stopped chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, sender Sender) *Dispatcher {
	setDefault := func(field *int, def int) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefault(&cfg.CountWorkers, defaultCountWorkers)
	setDefault(&cfg.QueueSize, defaultQueueSize)

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.SendTimeout, defaultSendTimeout)
	setDefaultDuration(&cfg.BaseBackoff, defaultBaseBackoff)
	setDefaultDuration(&cfg.MaxBackoff, defaultMaxBackoff)
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		logger:  logger.OrNoOp(cfg.Logger),
		queue:   make(chan Message, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

// Start runs workers until Close drains the queue or ctx is done.
// Returned channel is closed when every worker stopped.
func (d *Dispatcher) Start(ctx context.Context) <-chan struct{} {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.CountWorkers; i++ {
		wg.Add(1)
		go func() {
			d.worker(ctx)
			wg.Done()
		}()
	}

	go func() {
		defer close(d.stopped)
		wg.Wait()
		d.logger.Debug("Mail dispatcher stopped")
	}()

	return d.stopped
}

// Enqueue schedules msg for delivery
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("dispatcher is closed: %w", apperrors.ErrDeliveryFailure)
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.cfg.Metrics.MailDelivery("dropped")
		return fmt.Errorf("mail queue is full: %w", apperrors.ErrDeliveryFailure)
	}
}

// Close stops accepting messages and waits until queued ones are delivered
// or ctx is done. Start must have been called.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mail queue not drained, %d message(s) left: %w", len(d.queue), ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-d.queue:
			if !ok {
				return
			}

			err := d.deliver(ctx, msg)
			if err != nil {
				d.cfg.Metrics.MailDelivery(metrics.OutcomeError)
				d.logger.Error("Failed to deliver email", "to", msg.To, "subject", msg.Subject, "error", err)
				continue
			}

			d.cfg.Metrics.MailDelivery(metrics.OutcomeSuccess)
			d.logger.Debug("Email delivered", "to", msg.To, "subject", msg.Subject)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(d.cfg.MaxRetries,
		retry.WithCappedDuration(d.cfg.MaxBackoff, retry.NewExponential(d.cfg.BaseBackoff)),
	)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		err := d.sender.Send(sendCtx, msg)
		if err == nil {
			return nil
		}

		var mErr *Error
		switch {
		case errors.As(err, &mErr) && mErr.Code == CodePermanent:
			return err
		case errors.As(err, &mErr) && mErr.Code == CodeRetryAfter:
			d.logger.Info("Mail transport throttled, waiting", "retry_after", mErr.RetryAfter)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(min(mErr.RetryAfter, d.cfg.MaxBackoff)):
			}
		}

		d.logger.Warn("Email delivery attempt failed", "to", msg.To, "error", err)
		return retry.RetryableError(err)
	})
}
