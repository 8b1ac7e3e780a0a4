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
	"watchpot/internal/config"
	"watchpot/internal/cycle"
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
		history    = flag.Int("history", 0, "print the last N runs and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		return 1
	}

	a := app.New(cfg)
	defer a.Close()
	logger := a.Logger(logging.Orchestration)
	if cfg.Source == "" {
		logger.WithField("config", *configPath).Warn("Configuration file not found, using defaults")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *history > 0 {
		return printHistory(ctx, a, *history)
	}

	opts := cycle.Options{Force: *force}
	if *at != "" {
		opts.Label, err = schedule.AtClock(time.Now(), *at)
		if err != nil {
			logger.WithError(err).Error("Invalid --time")
			return 1
		}
	}

	out := a.Coordinator(ctx).RunCycle(ctx, opts)
	if out.Capture.PhotoPath != "" {
		fmt.Println(out.Capture.PhotoPath)
	}
	return out.ExitCode
}

func printHistory(ctx context.Context, a *app.App, n int) int {
	if a.Journal == nil {
		fmt.Fprintln(os.Stderr, "run journal is not available")
		return 1
	}
	runs, err := a.Journal.RecentRuns(ctx, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return 0
	}
	for _, r := range runs {
		fmt.Println(r.String())
	}
	return 0
}
