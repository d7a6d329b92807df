package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/chatr/internal/logger"
)

const defaultBrevoEndpoint = "https://api.brevo.com/v3/smtp/email"

type BrevoConfig struct {
	APIKey string
	From   string

	// Transactional email endpoint, the public Brevo API if empty
	Endpoint string
}

// BrevoSender delivers mail through the Brevo transactional email HTTP API
type BrevoSender struct {
	cfg    BrevoConfig
	client *http.Client
	logger logger.Logger
}

func NewBrevoSender(cfg BrevoConfig, l logger.Logger) (*BrevoSender, error) {
	switch {
	case cfg.APIKey == "":
		return nil, errors.New("brevo api key must not be empty")
	case cfg.From == "":
		return nil, errors.New("brevo sender address must not be empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultBrevoEndpoint
	}

	return &BrevoSender{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.OrNoOp(l),
	}, nil
}

type brevoAddress struct {
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(brevoEmail{
		Sender:      brevoAddress{Email: s.cfg.From},
		To:          []brevoAddress{{Email: msg.To}},
		Subject:     msg.Subject,
		TextContent: msg.Body,
	})
	if err != nil {
		return NewError(CodePermanent, 0, fmt.Errorf("failed to encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return NewError(CodePermanent, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return NewError(CodeTemporary, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		s.logger.Warn("Brevo throttled", "retry_after", retryAfter)
		return NewError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %s", retryAfter))
	case resp.StatusCode >= 500:
		return NewError(CodeTemporary, 0, fmt.Errorf("brevo unavailable, status code %d", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Warn("Brevo rejected message", "status_code", resp.StatusCode, "to", msg.To, "body", string(body))
		return NewError(CodePermanent, 0, fmt.Errorf("brevo rejected message, status code %d", resp.StatusCode))
	}
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 60 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
