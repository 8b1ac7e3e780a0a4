package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"watchpot/internal/capture"
	"watchpot/internal/journal"
	"watchpot/internal/metrics"
	"watchpot/internal/notify"
	"watchpot/internal/storage"
)

// Capturer is the capture side of a cycle
type Capturer interface {
	NewRequest(force bool, label time.Time) capture.Request
	Capture(ctx context.Context, req capture.Request) capture.Result
	Inventory() ([]storage.Bucket, error)
}

// Notifier is the notification side of a cycle
type Notifier interface {
	Notify(ctx context.Context, req notify.Request) notify.Result
}

// Recorder persists run history
type Recorder interface {
	RecordRun(ctx context.Context, r journal.Run) (string, error)
}

// MetricsWriter exports the run outcome
type MetricsWriter interface {
	Write(r metrics.Run) error
}

// Options are the per-run flags
type Options struct {
	Force bool
	Label time.Time
}

// Outcome is the terminal result of one cycle
type Outcome struct {
	RunID      string
	State      string
	ExitCode   int
	Reason     string
	Capture    capture.Result
	Notify     *notify.Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// Coordinator runs capture then notify as one cycle
type Coordinator struct {
	capturer Capturer
	notifier Notifier
	recorder Recorder
	metrics  MetricsWriter
	now      func() time.Time
	log      logrus.FieldLogger
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithRecorder stores each outcome in the run history
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithMetrics exports each outcome
func WithMetrics(m MetricsWriter) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator
func New(capturer Capturer, notifier Notifier, log logrus.FieldLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		capturer: capturer,
		notifier: notifier,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle drives one cycle to a terminal state. At most one error
// notification is attempted, and only after a capture failure.
func (c *Coordinator) RunCycle(ctx context.Context, opts Options) Outcome {
	out := Outcome{
		RunID:     ulid.Make().String(),
		StartedAt: c.now(),
	}
	logger := c.log.WithField("run_id", out.RunID)

	state := StateStart
	transition := func(next string) {
		logger.WithFields(logrus.Fields{"from": state, "to": next}).Debug("State transition")
		state = next
	}

	transition(StateCapture)
	out.Capture = c.capturer.Capture(ctx, c.capturer.NewRequest(opts.Force, opts.Label))

	switch out.Capture.Outcome {
	case capture.Skipped:
		transition(StateDoneSkipped)
		out.Reason = out.Capture.SkipReason

	case capture.Success:
		transition(StateNotifyPhoto)
		res := c.notifier.Notify(ctx, notify.Request{
			Kind:       notify.Photo,
			PhotoPath:  out.Capture.PhotoPath,
			CapturedAt: out.Capture.TakenAt,
		})
		out.Notify = &res
		if res.Status == notify.Sent {
			transition(StateDoneOK)
		} else {
			transition(StateDonePartial)
			out.Reason = notifyReason(res)
		}

	default:
		transition(StateNotifyError)
		out.Reason = string(out.Capture.Reason)
		res := c.notifier.Notify(ctx, notify.Request{
			Kind:         notify.Error,
			ErrorMessage: out.Capture.Message(),
		})
		out.Notify = &res
		if res.Status == notify.Sent {
			transition(StateDoneErrorReported)
		} else {
			transition(StateDoneErrorUnreported)
			out.Reason += ", " + notifyReason(res)
		}
	}

	out.State = state
	out.ExitCode = ExitCode(state)
	out.FinishedAt = c.now()

	c.finish(ctx, logger, out)
	return out
}

func (c *Coordinator) finish(ctx context.Context, logger logrus.FieldLogger, out Outcome) {
	line := fmt.Sprintf("run %s finished: %s exit=%d", out.RunID, out.State, out.ExitCode)
	if out.Reason != "" {
		line += " reason=" + out.Reason
	}
	entry := logger.WithFields(logrus.Fields{
		"state":     out.State,
		"exit_code": out.ExitCode,
		"duration":  out.FinishedAt.Sub(out.StartedAt).String(),
	})
	switch out.ExitCode {
	case ExitOK:
		entry.Info(line)
	case ExitErrorUnreported:
		entry.Error(line)
	default:
		entry.Warn(line)
	}

	attempts := out.Capture.Attempts
	if out.Notify != nil {
		attempts += out.Notify.Attempts
	}

	if c.recorder != nil {
		_, err := c.recorder.RecordRun(context.WithoutCancel(ctx), journal.Run{
			ID:         out.RunID,
			Step:       journal.StepCycle,
			StartedAt:  out.StartedAt,
			FinishedAt: out.FinishedAt,
			State:      out.State,
			ExitCode:   out.ExitCode,
			PhotoPath:  out.Capture.PhotoPath,
			Reason:     out.Reason,
			Attempts:   attempts,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to record run")
		}
	}

	if c.metrics != nil {
		buckets, err := c.capturer.Inventory()
		if err != nil {
			logger.WithError(err).Warn("Failed to count buckets")
		}
		err = c.metrics.Write(metrics.Run{
			Step:       string(journal.StepCycle),
			FinishedAt: out.FinishedAt,
			Success:    out.ExitCode == ExitOK,
			ExitCode:   out.ExitCode,
			Attempts:   attempts,
			PhotoBytes: out.Capture.SizeBytes,
			Buckets:    len(buckets),
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to export metrics")
		}
	}
}

func notifyReason(res notify.Result) string {
	if res.Reason != "" {
		return string(res.Reason)
	}
	return string(res.Status)
}
