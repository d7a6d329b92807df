package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail through an SMTP relay.
// STARTTLS is used when the server offers it, PLAIN auth when a username is set.
type SMTPSender struct {
	cfg  SMTPConfig
	opts []mail.Option
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	switch {
	case cfg.Host == "":
		return nil, errors.New("smtp host must not be empty")
	case cfg.From == "":
		return nil, errors.New("smtp sender address must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	return &SMTPSender{cfg: cfg, opts: opts}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.compose(msg)
	if err != nil {
		return NewError(CodePermanent, 0, err)
	}

	client, err := mail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return NewError(CodePermanent, 0, fmt.Errorf("invalid smtp client options: %w", err))
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return classify(err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) (*mail.Msg, error) {
	// Body goes as is, verification links must stay readable in the raw message
	m := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))

	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	return m, nil
}

// classify maps SMTP replies: 4xx may succeed later, 5xx never will.
// Anything that is not a server reply (dial, tls, timeout) is worth a retry.
func classify(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() {
		return NewError(CodePermanent, 0, err)
	}

	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return NewError(CodePermanent, 0, err)
	}

	return NewError(CodeTemporary, 0, err)
}
