package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EmailOptions parameterise the SMTP sender.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers alerts over plain SMTP.
type EmailSender struct {
	opts   EmailOptions
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger zerolog.Logger
}

// NewEmailSender constructs an SMTP sender.
func NewEmailSender(opts EmailOptions, logger zerolog.Logger) *EmailSender {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &EmailSender{
		opts:   opts,
		send:   smtp.SendMail,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Send delivers a single alert email to target. net/smtp has no
// context-aware API, so cancellation is checked before dialing only.
func (s *EmailSender) Send(ctx context.Context, target string, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("PulseWatch signal: %s (%s)", strings.Join(alert.Assets, ", "), alert.Sentiment)
	if len(alert.Assets) == 0 {
		subject = "PulseWatch signal"
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.opts.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", target))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(renderText(alert))

	var auth smtp.Auth
	if s.opts.Username != "" {
		auth = smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	if err := s.send(addr, auth, s.opts.From, []string{target}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	s.logger.Debug().
		Str("to", target).
		Int64("prediction_id", alert.PredictionID).
		Msg("告警已发送 (Email)")
	return nil
}

var _ Sender = (*EmailSender)(nil)
