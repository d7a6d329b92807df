package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/chatr/internal/logger"
)

const (
	defaultLoggingLevel        = logger.LevelInfo
	defaultEnvironment         = logger.EnvProd
	defaultDatabaseDSN         = "sqlite://chatr.db"
	defaultAccessExpireMinutes = 30
	defaultRefreshExpireDays   = 7
	defaultFrontendBaseURL     = "http://localhost:3000"
	defaultMinPasswordLength   = 6
	defaultSMTPPort            = 587
	defaultMailTimeout         = 10 * time.Second

	minSecretKeyLen = 32
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment: dev or prod
	Environment string

	// Storage to use: postgres://..., sqlite://<path> or memory://
	DatabaseDSN string

	// Secret key to sign bearer tokens
	SecretKey string

	// Token lifetimes
	AccessTokenExpiresMinutes int
	RefreshTokenExpiresDays   int

	// Verification links point to {FrontendBaseURL}/verify-email
	FrontendBaseURL string

	// Reject authenticated calls of unverified users
	RequireVerifiedEmail bool

	MinPasswordLength int

	// Zero means bcrypt default
	BcryptCost int

	// Mail transport. Brevo wins if its key is set, then SMTP, else emails are only logged.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	BrevoAPIKey  string
	MailTimeout  time.Duration

	// Write metrics in node exporter textfile format on exit if set
	MetricsTextfile string

	// OTLP/HTTP collector url, tracing is off if empty
	TracingEndpoint string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:                  defaultLoggingLevel,
		Environment:               defaultEnvironment,
		DatabaseDSN:               defaultDatabaseDSN,
		AccessTokenExpiresMinutes: defaultAccessExpireMinutes,
		RefreshTokenExpiresDays:   defaultRefreshExpireDays,
		FrontendBaseURL:           defaultFrontendBaseURL,
		MinPasswordLength:         defaultMinPasswordLength,
		SMTPPort:                  defaultSMTPPort,
		MailTimeout:               defaultMailTimeout,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"LOG_LEVEL":                    setString(&c.LogLevel),
		"ENVIRONMENT":                  setString(&c.Environment),
		"DATABASE_URL":                 setString(&c.DatabaseDSN),
		"SECRET_KEY":                   setString(&c.SecretKey),
		"ACCESS_TOKEN_EXPIRES_MINUTES": setInt(&c.AccessTokenExpiresMinutes),
		"REFRESH_TOKEN_EXPIRES_DAYS":   setInt(&c.RefreshTokenExpiresDays),
		"FRONTEND_BASE_URL":            setString(&c.FrontendBaseURL),
		"REQUIRE_VERIFIED_EMAIL":       setBool(&c.RequireVerifiedEmail),
		"MIN_PASSWORD_LENGTH":          setInt(&c.MinPasswordLength),
		"BCRYPT_COST":                  setInt(&c.BcryptCost),
		"SMTP_HOST":                    setString(&c.SMTPHost),
		"SMTP_PORT":                    setInt(&c.SMTPPort),
		"SMTP_USERNAME":                setString(&c.SMTPUsername),
		"SMTP_PASSWORD":                setString(&c.SMTPPassword),
		"SMTP_DEFAULT_FROM_EMAIL":      setString(&c.SMTPFrom),
		"BREVO_API_KEY":                setString(&c.BrevoAPIKey),
		"MAIL_TIMEOUT":                 setDuration(&c.MailTimeout),
		"METRICS_TEXTFILE":             setString(&c.MetricsTextfile),
		"OTEL_EXPORTER_OTLP_ENDPOINT":  setString(&c.TracingEndpoint),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// BindFlags registers flags that override values loaded so far
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Storage DSN (postgres://..., sqlite://<path>, memory://)")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.IntVar(&c.AccessTokenExpiresMinutes, "access-ttl-minutes", c.AccessTokenExpiresMinutes, "Access token lifetime in minutes")
	fs.IntVar(&c.RefreshTokenExpiresDays, "refresh-ttl-days", c.RefreshTokenExpiresDays, "Refresh token lifetime in days")
	fs.StringVar(&c.FrontendBaseURL, "frontend-url", c.FrontendBaseURL, "Base url of email verification links")
	fs.BoolVar(&c.RequireVerifiedEmail, "require-verified", c.RequireVerifiedEmail, "Reject authenticated calls of unverified users")
	fs.StringVar(&c.MetricsTextfile, "metrics-textfile", c.MetricsTextfile, "Write metrics to this file on exit")
	fs.StringVar(&c.TracingEndpoint, "tracing-endpoint", c.TracingEndpoint, "OTLP/HTTP collector url for traces")
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.SecretKey) < minSecretKeyLen {
		errs = append(errs, fmt.Errorf("secret key must be at least %d bytes long", minSecretKeyLen))
	}
	if c.AccessTokenExpiresMinutes < 1 || c.AccessTokenExpiresMinutes > 1440 {
		errs = append(errs, fmt.Errorf("access token lifetime must be within [1, 1440] minutes, got %d", c.AccessTokenExpiresMinutes))
	}
	if c.RefreshTokenExpiresDays < 1 {
		errs = append(errs, fmt.Errorf("refresh token lifetime must be at least 1 day, got %d", c.RefreshTokenExpiresDays))
	}
	if c.MinPasswordLength < defaultMinPasswordLength {
		errs = append(errs, fmt.Errorf("min password length must be at least %d, got %d", defaultMinPasswordLength, c.MinPasswordLength))
	}
	if c.Environment != logger.EnvDev && c.Environment != logger.EnvProd {
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn must not be empty"))
	}

	return errors.Join(errs...)
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenExpiresMinutes) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpiresDays) * 24 * time.Hour
}
