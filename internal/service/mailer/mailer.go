// Package mailer delivers outgoing email: transports and a background dispatcher.
package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nkiryanov/chatr/internal/logger"
)

const (
	CodeRetryAfter = "retry-after"
	CodeTemporary  = "temporary"
	CodePermanent  = "permanent"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message. Implementations must honour ctx deadline.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Error is returned by transports that can tell whether a retry makes sense
type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter time.Duration, err error) *Error {
	return &Error{Code: code, RetryAfter: retryAfter, Err: err}
}

// VerificationMessage builds the email with the confirmation link
func VerificationMessage(baseURL string, to string, token string) Message {
	link := strings.TrimRight(baseURL, "/") + "/verify-email?token=" + url.QueryEscape(token)

	return Message{
		To:      to,
		Subject: "Confirm your email",
		Body: "Hi!\r\n\r\n" +
			"Please confirm your email address by opening the link below:\r\n\r\n" +
			link + "\r\n\r\n" +
			"The link is valid for 24 hours. If you did not sign up, ignore this email.\r\n",
	}
}

// LogSender writes messages to the log instead of sending them. Used in dev.
type LogSender struct {
	Logger logger.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	l := logger.OrNoOp(s.Logger)
	l.Info("Email not sent, log transport in use", "to", msg.To, "subject", msg.Subject)
	// Body carries a live verification link
	l.Debug("Email body", "to", msg.To, "body", msg.Body)
	return nil
}
