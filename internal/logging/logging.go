package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"watchpot/internal/config"
)

// Log concerns, each with its own append-only file in LOG_DIR
const (
	Capture       = "capture"
	Email         = "email"
	Orchestration = "watchpot"

	errorsFile = "errors.log"
)

// Logger is a concern-scoped logger plus the files it holds open
type Logger struct {
	logrus.FieldLogger

	files []*os.File
}

// Close releases the log files
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// New creates the logger for one concern. Records go to stderr and to
// <LOG_DIR>/<concern>.log; error-level records are also copied to errors.log.
// When the log directory cannot be used the logger degrades to stderr only.
func New(cfg config.Config, concern string) *Logger {
	base := logrus.New()
	base.SetFormatter(formatter(cfg.LogFormat))

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	l := &Logger{}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		base.SetOutput(os.Stderr)
		l.FieldLogger = base.WithField("concern", concern)
		l.WithError(err).WithField("log_dir", cfg.LogDir).Warn("log directory unavailable, logging to stderr only")
		return l
	}

	own, err := openAppend(filepath.Join(cfg.LogDir, concern+".log"))
	if err != nil {
		base.SetOutput(os.Stderr)
	} else {
		l.files = append(l.files, own)
		base.SetOutput(io.MultiWriter(os.Stderr, own))
	}

	if errs, herr := openAppend(filepath.Join(cfg.LogDir, errorsFile)); herr == nil {
		l.files = append(l.files, errs)
		base.AddHook(&fileHook{
			w:         errs,
			formatter: formatter(cfg.LogFormat),
			levels:    []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
		})
	}

	l.FieldLogger = base.WithField("concern", concern)
	if err != nil {
		l.WithError(err).Warn("log file unavailable, logging to stderr only")
	}
	return l
}

// ErrorLog returns the file that collects error records of every concern
func ErrorLog(logDir string) string {
	return filepath.Join(logDir, errorsFile)
}

// Files returns the log files whose recent lines are useful in a report,
// most relevant first
func Files(logDir string) []string {
	return []string{
		ErrorLog(logDir),
		filepath.Join(logDir, Capture+".log"),
		filepath.Join(logDir, Email+".log"),
		filepath.Join(logDir, Orchestration+".log"),
	}
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// fileHook writes selected levels to an extra sink
type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.w.Write(line)
	return err
}
