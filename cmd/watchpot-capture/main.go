package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"watchpot/internal/app"
	"watchpot/internal/capture"
	"watchpot/internal/config"
	"watchpot/internal/journal"
	"watchpot/internal/logging"
	"watchpot/internal/schedule"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		force      = flag.Bool("force", false, "capture even if the schedule says it is not due")
		at         = flag.String("time", "", "treat the run as happening today at HHMM")
		configPath = flag.String("config", config.DefaultPath, "configuration file")
		cleanup    = flag.Bool("cleanup", false, "apply retention only, do not capture")
		list       = flag.Bool("list", false, "list stored photos and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		return 1
	}

	a := app.New(cfg)
	defer a.Close()
	logger := a.Logger(logging.Capture)
	if cfg.Source == "" {
		logger.WithField("config", *configPath).Warn("Configuration file not found, using defaults")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := a.CaptureController(ctx)

	switch {
	case *list:
		return listPhotos(ctrl)
	case *cleanup:
		removed, err := ctrl.Cleanup(ctx)
		if err != nil {
			logger.WithError(err).Error("Cleanup failed")
			return 1
		}
		fmt.Printf("Removed %d item(s)\n", len(removed))
		return 0
	}

	var label time.Time
	if *at != "" {
		label, err = schedule.AtClock(time.Now(), *at)
		if err != nil {
			logger.WithError(err).Error("Invalid --time")
			return 1
		}
	}

	started := time.Now()
	res := ctrl.Capture(ctx, ctrl.NewRequest(*force, label))

	code := 0
	if res.Outcome == capture.Failure {
		code = 1
	}

	buckets, _ := ctrl.Inventory()
	a.Record(ctx, journal.Run{
		Step:      journal.StepCapture,
		StartedAt: started,
		State:     string(res.Outcome),
		ExitCode:  code,
		PhotoPath: res.PhotoPath,
		Reason:    reason(res),
		Attempts:  res.Attempts,
	}, res.SizeBytes, len(buckets))

	switch res.Outcome {
	case capture.Success:
		fmt.Println(res.PhotoPath)
	case capture.Skipped:
		logger.WithField("reason", res.SkipReason).Info("Nothing to do")
	default:
		fmt.Fprintln(os.Stderr, res.Message())
	}
	return code
}

func reason(res capture.Result) string {
	if res.Outcome == capture.Skipped {
		return res.SkipReason
	}
	return string(res.Reason)
}

func listPhotos(ctrl *capture.Controller) int {
	buckets, err := ctrl.Inventory()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(buckets) == 0 {
		fmt.Println("No photos stored")
		return 0
	}

	var total int64
	count := 0
	for _, b := range buckets {
		fmt.Printf("%s (%d photos)\n", b.Name, len(b.Photos))
		for _, p := range b.Photos {
			fmt.Printf("  %s  %8.1f KB  %s\n", p.TakenAt.Format("15:04:05"), float64(p.Size)/1024, p.Name)
			total += p.Size
			count++
		}
	}
	fmt.Printf("\n%d photos in %d buckets, %.1f MB\n", count, len(buckets), float64(total)/(1024*1024))
	return 0
}
