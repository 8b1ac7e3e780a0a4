package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"watchpot/internal/archive"
	"watchpot/internal/camera"
	"watchpot/internal/capture"
	"watchpot/internal/config"
	"watchpot/internal/cycle"
	"watchpot/internal/journal"
	"watchpot/internal/logging"
	"watchpot/internal/metrics"
	"watchpot/internal/notify"
	"watchpot/internal/telemetry"
)

// App holds the components shared by the executables
type App struct {
	Config  config.Config
	Journal *journal.Journal
	Metrics *metrics.Exporter

	loggers map[string]*logging.Logger
}

// New wires the components for cfg. The journal is optional: when it cannot
// be opened the executables run without history.
func New(cfg config.Config) *App {
	a := &App{
		Config:  cfg,
		Metrics: metrics.NewExporter(cfg.MetricsTextfile),
		loggers: make(map[string]*logging.Logger),
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			a.Logger(logging.Orchestration).WithError(err).WithField("journal", cfg.JournalPath).Warn("Run journal unavailable")
		} else {
			a.Journal = j
		}
	}
	return a
}

// Logger returns the logger for a concern, opening it on first use
func (a *App) Logger(concern string) logrus.FieldLogger {
	l, ok := a.loggers[concern]
	if !ok {
		l = logging.New(a.Config, concern)
		a.loggers[concern] = l
	}
	return l
}

// Close releases the journal and log files
func (a *App) Close() {
	if a.Journal != nil {
		a.Journal.Close()
	}
	for _, l := range a.loggers {
		l.Close()
	}
}

// CaptureController builds the capture controller with the rpicam source
// and, when configured, the S3 archive
func (a *App) CaptureController(ctx context.Context) *capture.Controller {
	log := a.Logger(logging.Capture)

	var opts []capture.Option
	uploader, err := archive.NewS3Uploader(ctx, a.Config, log)
	if err != nil {
		log.WithError(err).Warn("Photo archive disabled")
	} else if uploader != nil {
		opts = append(opts, capture.WithArchiver(uploader))
	}

	return capture.New(a.Config, camera.FromConfig(a.Config), log, opts...)
}

// NotifyController builds the notification controller with the SMTP transport
func (a *App) NotifyController() *notify.Controller {
	log := a.Logger(logging.Email)

	var opts []notify.Option
	if a.Journal != nil {
		opts = append(opts, notify.WithLedger(a.Journal))
	}

	return notify.New(a.Config,
		notify.NewSMTPTransport(a.Config, log),
		telemetry.NewHostCollector(a.Config, log),
		log, opts...)
}

// Coordinator builds the run coordinator for one full cycle
func (a *App) Coordinator(ctx context.Context) *cycle.Coordinator {
	opts := []cycle.Option{}
	if a.Journal != nil {
		opts = append(opts, cycle.WithRecorder(a.Journal))
	}
	if a.Metrics.Enabled() {
		opts = append(opts, cycle.WithMetrics(a.Metrics))
	}
	return cycle.New(a.CaptureController(ctx), a.NotifyController(), a.Logger(logging.Orchestration), opts...)
}

// Record stores a single-step run in the journal and the metrics textfile.
// Both are best-effort.
func (a *App) Record(ctx context.Context, run journal.Run, photoBytes int64, buckets int) {
	log := a.Logger(logging.Orchestration)
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	if a.Journal != nil {
		if _, err := a.Journal.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			log.WithError(err).Warn("Failed to record run")
		}
	}

	err := a.Metrics.Write(metrics.Run{
		Step:       string(run.Step),
		FinishedAt: run.FinishedAt,
		Success:    run.ExitCode == 0,
		ExitCode:   run.ExitCode,
		Attempts:   run.Attempts,
		PhotoBytes: photoBytes,
		Buckets:    buckets,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to export metrics")
	}
}
