package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"storefront/config"
	"storefront/mq"
)

// ErrNoRecipient is returned when a summary has no email address.
var ErrNoRecipient = errors.New("notify: no recipient email")

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers confirmations over SMTP with PLAIN auth.
type SMTPMailer struct {
	cfg  config.MailConfig
	send SendFunc
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) SendOrderConfirmation(_ context.Context, s OrderSummary) error {
	if s.Email == "" {
		return ErrNoRecipient
	}
	subject, body := Compose(s)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", s.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return m.send(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.From, []string{s.Email}, []byte(msg.String()))
}

// LogNotifier only logs. It is the default in development.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendOrderConfirmation(ctx context.Context, s OrderSummary) error {
	subject, _ := Compose(s)
	n.Logger.InfoContext(ctx, "order confirmation", "to", s.Email, "subject", subject, "order_id", s.OrderID)
	return nil
}

// QueueNotifier hands confirmations to a worker over mq.
type QueueNotifier struct {
	pub mq.Publisher
}

func NewQueueNotifier(pub mq.Publisher) *QueueNotifier {
	return &QueueNotifier{pub: pub}
}

func (n *QueueNotifier) SendOrderConfirmation(ctx context.Context, s OrderSummary) error {
	return n.pub.Publish(ctx, mq.NotificationsChannel, s)
}

// Worker returns an mq handler that delivers queued confirmations through
// next.
func Worker(next Notifier) mq.Handler {
	return func(ctx context.Context, payload []byte) error {
		var s OrderSummary
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("notify: decode queued confirmation: %w", err)
		}
		return next.SendOrderConfirmation(ctx, s)
	}
}
