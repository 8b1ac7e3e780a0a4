package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"watchpot/internal/config"
	"watchpot/internal/logging"
	"watchpot/internal/retry"
	"watchpot/internal/telemetry"
)

// ErrConfigurationInvalid is returned when mail settings are incomplete
var ErrConfigurationInvalid = errors.New("notification configuration invalid")

// Kind selects the notification template
type Kind string

const (
	Photo Kind = "photo"
	Error Kind = "error"
)

// Status is the delivery outcome
type Status string

const (
	Sent    Status = "sent"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Reason classifies a failed notification
type Reason string

const (
	ConfigurationInvalid Reason = "ConfigurationInvalid"
	TransportExhausted   Reason = "TransportExhausted"
)

// Request is one notification. Exactly one of PhotoPath and ErrorMessage is
// set; a nil Snapshot is collected fresh.
type Request struct {
	Kind         Kind
	PhotoPath    string
	ErrorMessage string
	CapturedAt   time.Time
	Snapshot     *telemetry.Snapshot
}

// Result reports what a notification did. Degraded means the photo could
// not be attached and a telemetry-only message was sent instead.
type Result struct {
	Status   Status
	Reason   Reason
	Attempts int
	Degraded bool
	Err      error
}

// Ledger remembers which photos were already sent
type Ledger interface {
	WasNotified(ctx context.Context, photoPath string) (bool, error)
	MarkNotified(ctx context.Context, photoPath string, at time.Time) error
}

// Controller composes and delivers notifications
type Controller struct {
	cfg       config.Config
	transport Transport
	collector telemetry.Collector
	policy    retry.Policy
	ledger    Ledger
	now       func() time.Time
	log       logrus.FieldLogger
}

// Option customizes a Controller
type Option func(*Controller)

// WithRetryPolicy overrides the delivery retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithLedger records delivered photos
func WithLedger(l Ledger) Option {
	return func(c *Controller) { c.ledger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a notification controller
func New(cfg config.Config, transport Transport, collector telemetry.Collector, log logrus.FieldLogger, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg,
		transport: transport,
		collector: collector,
		policy: retry.Policy{
			MaxAttempts: cfg.NotifyMaxAttempts,
			Delay:       cfg.NotifyRetryDelay,
			Strategy:    retry.Strategy(cfg.RetryBackoff),
		},
		now: time.Now,
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckConfig reports missing mail settings
func CheckConfig(cfg config.Config) error {
	var missing []string
	if strings.TrimSpace(cfg.SMTPServer) == "" {
		missing = append(missing, "SMTP_SERVER")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		missing = append(missing, "SENDER_EMAIL")
	}
	if cfg.SenderPassword == "" {
		missing = append(missing, "SENDER_PASSWORD")
	}
	if len(cfg.Recipients) == 0 {
		missing = append(missing, "RECIPIENTS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfigurationInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Due reports whether photoPath still needs a notification
func (c *Controller) Due(ctx context.Context, photoPath string) bool {
	if c.ledger == nil {
		return true
	}
	done, err := c.ledger.WasNotified(ctx, photoPath)
	if err != nil {
		c.log.WithError(err).Warn("Could not check notification history")
		return true
	}
	return !done
}

// Notify composes and delivers one notification under the retry policy
func (c *Controller) Notify(ctx context.Context, req Request) Result {
	logger := c.log.WithField("kind", string(req.Kind))

	if err := CheckConfig(c.cfg); err != nil {
		logger.WithError(err).Error("Cannot send notification")
		return Result{Status: Failed, Reason: ConfigurationInvalid, Err: err}
	}

	snap := req.Snapshot
	if snap == nil {
		logger.Info("Collecting system information")
		s := c.collector.Collect(ctx)
		snap = &s
	}

	msg, degraded := c.compose(req, *snap)
	if degraded {
		logger.WithField("photo", req.PhotoPath).Warn("Photo unreadable, sending telemetry only")
	}

	// a delivery in flight is bounded by SMTP_TIMEOUT only; cancelling ctx
	// stops further attempts
	sendCtx := context.WithoutCancel(ctx)
	attempts, err := retry.Do(ctx, c.policy, func(attempt int) error {
		err := c.transport.Send(sendCtx, msg)
		var partial *PartialError
		if errors.As(err, &partial) {
			msg.To = partial.Failed
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.policy.MaxAttempts,
			"retry_in":     next.String(),
		}).Warn("Notification attempt failed")
	})

	if err != nil {
		logger.WithError(err).WithField("attempts", attempts).Error("Notification failed")
		return Result{Status: Failed, Reason: TransportExhausted, Attempts: attempts, Degraded: degraded, Err: err}
	}

	logger.WithFields(logrus.Fields{
		"recipients": len(c.cfg.Recipients),
		"attempts":   attempts,
	}).Info("Notification sent")

	if req.Kind == Photo && c.ledger != nil && req.PhotoPath != "" {
		if err := c.ledger.MarkNotified(sendCtx, req.PhotoPath, c.now()); err != nil {
			logger.WithError(err).Warn("Could not record notification")
		}
	}
	return Result{Status: Sent, Attempts: attempts, Degraded: degraded}
}

// compose renders the message for req. It reports whether the photo had to
// be left out.
func (c *Controller) compose(req Request, snap telemetry.Snapshot) (Message, bool) {
	now := c.now()
	msg := Message{
		From: c.cfg.SenderEmail,
		To:   append([]string(nil), c.cfg.Recipients...),
	}

	var body strings.Builder
	degraded := false

	switch req.Kind {
	case Error:
		msg.Subject = ErrorSubject(now)
		body.WriteString(ErrorHeader(now, req.ErrorMessage))
		body.WriteString("\n")
		body.WriteString(SystemInfo(snap))
		tails := c.tails(logging.Files(c.cfg.LogDir))
		if tails == "" {
			tails = "\nNo recent error logs found.\n"
		}
		body.WriteString(LogSection(tails))

	default:
		msg.Subject = ExpandTimestamp(c.cfg.EmailSubject, now)
		body.WriteString(ExpandTimestamp(c.cfg.EmailBody, now))
		body.WriteString("\n")
		if !req.CapturedAt.IsZero() {
			fmt.Fprintf(&body, "\nCaptured at: %s\n", req.CapturedAt.Format(timestampLayout))
		}
		if err := readable(req.PhotoPath); err != nil {
			degraded = true
			fmt.Fprintf(&body, "\nAttachment unavailable: %v\n", err)
		} else {
			msg.Attachment = req.PhotoPath
		}
		body.WriteString("\n")
		body.WriteString(SystemInfo(snap))
		if c.cfg.SendErrorLogs {
			if tails := c.tails([]string{logging.ErrorLog(c.cfg.LogDir)}); tails != "" {
				body.WriteString(LogSection(tails))
			}
		}
	}

	body.WriteString(signOff(snap.Hostname))
	msg.Body = body.String()
	return msg, degraded
}

func (c *Controller) tails(files []string) string {
	return Redact(TailLogs(files, c.cfg.ErrorLogLines), c.cfg.SenderPassword)
}

func readable(path string) error {
	if path == "" {
		return errors.New("no photo given")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}
