package metrics

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run is what one executable reports about its invocation
type Run struct {
	Step       string
	FinishedAt time.Time
	Success    bool
	ExitCode   int
	Attempts   int
	PhotoBytes int64
	Buckets    int
}

// Exporter writes run gauges for the node_exporter textfile collector
type Exporter struct {
	path     string
	registry *prometheus.Registry

	lastRun    *prometheus.GaugeVec
	success    *prometheus.GaugeVec
	exitCode   *prometheus.GaugeVec
	attempts   *prometheus.GaugeVec
	photoBytes prometheus.Gauge
	buckets    prometheus.Gauge
}

// NewExporter creates an exporter writing to path. An empty path disables it.
func NewExporter(path string) *Exporter {
	e := &Exporter{
		path:     path,
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchpot_last_run_timestamp_seconds",
			Help: "Unix time the last invocation finished",
		}, []string{"step"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchpot_last_run_success",
			Help: "1 if the last invocation succeeded or skipped",
		}, []string{"step"}),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchpot_last_run_exit_code",
			Help: "Exit code of the last invocation",
		}, []string{"step"}),
		attempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchpot_last_run_attempts",
			Help: "Attempts used by the last invocation",
		}, []string{"step"}),
		photoBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchpot_last_photo_size_bytes",
			Help: "Size of the last captured photo",
		}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchpot_photo_buckets",
			Help: "Day buckets on disk after the last invocation",
		}),
	}
	e.registry.MustRegister(e.lastRun, e.success, e.exitCode, e.attempts, e.photoBytes, e.buckets)
	return e
}

// Enabled reports whether a textfile path is configured
func (e *Exporter) Enabled() bool {
	return e.path != ""
}

// Path returns the textfile the step's gauges are written to. The cycle
// owns the configured name; the single-step executables get a suffixed
// sibling so they do not overwrite each other.
func (e *Exporter) Path(step string) string {
	if step == "" || step == "cycle" {
		return e.path
	}
	ext := filepath.Ext(e.path)
	return strings.TrimSuffix(e.path, ext) + "_" + step + ext
}

// Write records r and atomically replaces the textfile
func (e *Exporter) Write(r Run) error {
	if !e.Enabled() {
		return nil
	}

	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	e.lastRun.WithLabelValues(r.Step).Set(float64(finished.Unix()))
	e.success.WithLabelValues(r.Step).Set(boolValue(r.Success))
	e.exitCode.WithLabelValues(r.Step).Set(float64(r.ExitCode))
	e.attempts.WithLabelValues(r.Step).Set(float64(r.Attempts))
	if r.PhotoBytes > 0 {
		e.photoBytes.Set(float64(r.PhotoBytes))
	}
	e.buckets.Set(float64(r.Buckets))

	if err := prometheus.WriteToTextfile(e.Path(r.Step), e.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
