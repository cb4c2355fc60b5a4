// Package mail sends transactional email through SendGrid, Resend, or, in
// development, the log.
package mail

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/Voice-ly/voice.ly-backend/internal/logging"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New picks a transport by provider name: "sendgrid", "resend" or "log".
func New(provider, apiKey, from string, log logging.Logger) (Sender, error) {
	switch provider {
	case "", "log":
		return NewLogSender(log), nil
	case "sendgrid", "resend":
		if apiKey == "" {
			return nil, fmt.Errorf("MAIL_API_KEY is required for %s", provider)
		}
		if from == "" {
			return nil, errors.New("MAIL_FROM is required")
		}
		if provider == "sendgrid" {
			return NewSendGrid(apiKey, from), nil
		}
		return NewResend(apiKey, from), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", provider)
	}
}

type SendGrid struct {
	client *sendgrid.Client
	from   *sgmail.Email
}

func NewSendGrid(apiKey, from string) *SendGrid {
	return &SendGrid{
		client: sendgrid.NewSendClient(apiKey),
		from:   sgmail.NewEmail("Voice.ly", from),
	}
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	m := sgmail.NewSingleEmail(s.from, msg.Subject, sgmail.NewEmail("", msg.To), "", msg.HTML)
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d", resp.StatusCode)
	}
	return nil
}

type Resend struct {
	client *resend.Client
	from   string
}

func NewResend(apiKey, from string) *Resend {
	return &Resend{client: resend.NewClient(apiKey), from: from}
}

func (r *Resend) Send(ctx context.Context, msg Message) error {
	_, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// LogSender logs the message instead of delivering it. The body can carry
// live reset links so it is only written at debug level.
type LogSender struct {
	log logging.Logger
}

func NewLogSender(log logging.Logger) *LogSender {
	return &LogSender{log: log}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.log.Info(ctx, "mail not delivered (log provider)", "to", msg.To, "subject", msg.Subject)
	l.log.Debug(ctx, "mail body", "to", msg.To, "html", msg.HTML)
	return nil
}

//go:embed reset.html
var resetHTML string

var resetTmpl = template.Must(template.New("reset").Parse(resetHTML))

// PasswordReset renders the reset email for a link.
func PasswordReset(to, resetURL string) (Message, error) {
	var buf bytes.Buffer
	err := resetTmpl.Execute(&buf, struct {
		URL  string
		Year int
	}{resetURL, time.Now().Year()})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Recuperación de contraseña", HTML: buf.String()}, nil
}
