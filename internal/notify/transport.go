package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"watchpot/internal/config"
)

// Message is one notification ready for delivery
type Message struct {
	From       string
	To         []string
	Subject    string
	Body       string
	Attachment string
}

// Transport delivers a message to every recipient in msg.To
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// PartialError reports the recipients a delivery did not reach
type PartialError struct {
	Failed []string
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("delivery failed for %s: %v", strings.Join(e.Failed, ", "), e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// SMTPTransport sends one message per recipient over authenticated SMTP,
// paced by a rate limiter
type SMTPTransport struct {
	cfg     config.Config
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// NewSMTPTransport creates a transport for the configured server
func NewSMTPTransport(cfg config.Config, log logrus.FieldLogger) *SMTPTransport {
	return &SMTPTransport{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SMTPSendRate), 1),
		log:     log,
	}
}

func (t *SMTPTransport) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(t.cfg.SMTPPort),
		mail.WithTimeout(t.cfg.SMTPTimeout),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.cfg.SenderEmail),
		mail.WithPassword(t.cfg.SenderPassword),
	}
	switch {
	case t.cfg.SMTPPort == 465:
		opts = append(opts, mail.WithSSL())
	case t.cfg.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	return mail.NewClient(t.cfg.SMTPServer, opts...)
}

// Send delivers msg to each recipient separately. Recipients that fail are
// returned in a PartialError so a retry can target only them.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	c, err := t.client()
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"server": t.cfg.SMTPServer,
		"port":   t.cfg.SMTPPort,
	}).Info("Connecting to SMTP server")

	var failed []string
	var last error
	for _, rcpt := range msg.To {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		m, err := build(msg, rcpt)
		if err == nil {
			err = c.DialAndSendWithContext(ctx, m)
		}
		if err != nil {
			t.log.WithError(err).WithField("recipient", rcpt).Error("Failed to send email")
			failed = append(failed, rcpt)
			last = err
			continue
		}
		t.log.WithField("recipient", rcpt).Info("Email sent")
	}

	if len(failed) > 0 {
		return &PartialError{Failed: failed, Err: last}
	}
	return nil
}

func build(msg Message, rcpt string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(rcpt); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	if msg.Attachment != "" {
		m.AttachFile(msg.Attachment, mail.WithFileName(filepath.Base(msg.Attachment)))
	}
	return m, nil
}
