package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkiryanov/chatr/internal/db"
	"github.com/nkiryanov/chatr/internal/logger"
	"github.com/nkiryanov/chatr/internal/metrics"
	"github.com/nkiryanov/chatr/internal/repository"
	"github.com/nkiryanov/chatr/internal/repository/memory"
	"github.com/nkiryanov/chatr/internal/repository/postgres"
	"github.com/nkiryanov/chatr/internal/repository/sqlite"
	"github.com/nkiryanov/chatr/internal/service/auth"
	"github.com/nkiryanov/chatr/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/chatr/internal/service/mailer"
	"github.com/nkiryanov/chatr/internal/service/verification"
	"github.com/nkiryanov/chatr/internal/tracing"
)

// Max time to wait for queued emails on exit
const drainTimeout = 30 * time.Second

type App struct {
	Auth   *auth.Service
	Logger logger.Logger

	registry        *prometheus.Registry
	metricsTextfile string
	dispatcher      *mailer.Dispatcher
	closeStorage    func() error
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	shutdownTracing, err := tracing.Setup(ctx, "chatr", c.TracingEndpoint)
	if err != nil {
		return nil, err
	}

	storage, closeStorage, err := openStorage(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, errors.Join(err, shutdownTracing(context.WithoutCancel(ctx)))
	}
	closeStorage = closeWith(closeStorage, shutdownTracing)

	sender, err := newSender(c, l)
	if err != nil {
		_ = closeStorage()
		return nil, err
	}
	dispatcher := mailer.NewDispatcher(mailer.DispatcherConfig{
		SendTimeout: c.MailTimeout,
		Logger:      l,
		Metrics:     m,
	}, sender)
	// Queued emails outlive a cancelled command, Close drains them
	dispatcher.Start(context.WithoutCancel(ctx))

	tokens, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL(),
		RefreshTTL: c.RefreshTTL(),
		Logger:     l,
		Metrics:    m,
	}, storage.Revoked())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error while creating token manager. Err: %w", err), closeAll(dispatcher, closeStorage))
	}

	verifier, err := verification.New(verification.Config{Logger: l}, storage)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error while creating verification service. Err: %w", err), closeAll(dispatcher, closeStorage))
	}

	authService, err := auth.NewService(auth.Config{
		MinPasswordLength: c.MinPasswordLength,
		RequireVerified:   c.RequireVerifiedEmail,
		VerifyBaseURL:     c.FrontendBaseURL,
		Hasher:            auth.BcryptHasher{Cost: c.BcryptCost},
		Mailer:            dispatcher,
		Logger:            l,
		Metrics:           m,
	}, storage, tokens, verifier)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error while creating auth service. Err: %w", err), closeAll(dispatcher, closeStorage))
	}

	return &App{
		Auth:            authService,
		Logger:          l,
		registry:        registry,
		metricsTextfile: c.MetricsTextfile,
		dispatcher:      dispatcher,
		closeStorage:    closeStorage,
	}, nil
}

// Close waits for queued emails, dumps metrics and releases storage
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	var errs []error
	if err := a.dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if a.metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(a.metricsTextfile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("error while writing metrics. Err: %w", err))
		}
	}

	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// openStorage picks the repository implementation by DSN scheme
func openStorage(ctx context.Context, dsn string) (repository.Storage, func() error, error) {
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return nil, nil, fmt.Errorf("database dsn must have a scheme, got %q", dsn)
	}

	switch scheme {
	case "postgres", "postgresql":
		pool, err := db.ConnectAndMigrate(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		return postgres.NewStorage(pool), func() error { pool.Close(); return nil }, nil

	case "sqlite":
		sqliteDB, err := sqlite.Open(ctx, rest)
		if err != nil {
			return nil, nil, fmt.Errorf("error while opening sqlite db. Err: %w", err)
		}
		return sqliteDB.Storage(), sqliteDB.Close, nil

	case "memory":
		return memory.NewStorage(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func newSender(c *Config, l logger.Logger) (mailer.Sender, error) {
	switch {
	case c.BrevoAPIKey != "":
		return mailer.NewBrevoSender(mailer.BrevoConfig{APIKey: c.BrevoAPIKey, From: c.SMTPFrom}, l)
	case c.SMTPHost != "":
		return mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
		})
	default:
		return mailer.LogSender{Logger: l}, nil
	}
}

func closeAll(d *mailer.Dispatcher, closeStorage func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return errors.Join(d.Close(ctx), closeStorage())
}

// closeWith chains the tracing shutdown after closing storage, spans are flushed last
func closeWith(closeStorage func() error, shutdown func(context.Context) error) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return errors.Join(closeStorage(), shutdown(ctx))
	}
}
