package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"watchpot/internal/app"
	"watchpot/internal/config"
	"watchpot/internal/journal"
	"watchpot/internal/logging"
	"watchpot/internal/notify"
	"watchpot/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		force      = flag.Bool("force", false, "send even if this photo was already sent")
		testMode   = flag.Bool("test", false, "send a generated placeholder photo")
		errMsg     = flag.String("error", "", "send an error notification with this message")
		configPath = flag.String("config", config.DefaultPath, "configuration file")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [PHOTO_PATH]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		return 1
	}

	a := app.New(cfg)
	defer a.Close()
	logger := a.Logger(logging.Email)
	if cfg.Source == "" {
		logger.WithField("config", *configPath).Warn("Configuration file not found, using defaults")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := a.NotifyController()
	started := time.Now()

	req := notify.Request{Kind: notify.Photo}
	switch {
	case *errMsg != "":
		req = notify.Request{Kind: notify.Error, ErrorMessage: *errMsg}

	case *testMode:
		dir, err := os.MkdirTemp("", "watchpot-test")
		if err != nil {
			logger.WithError(err).Error("Failed to create temporary directory")
			return 1
		}
		defer os.RemoveAll(dir)
		req.PhotoPath = filepath.Join(dir, "watchpot_test_"+started.Format("20060102_150405")+".jpg")
		if err := notify.WritePlaceholder(req.PhotoPath); err != nil {
			logger.WithError(err).Error("Failed to create test photo")
			return 1
		}

	case flag.NArg() > 0:
		req.PhotoPath = flag.Arg(0)

	default:
		store := storage.New(cfg.PhotosDir, cfg.PhotoPrefix, logger)
		latest, err := store.Latest(started)
		if err != nil {
			if errors.Is(err, storage.ErrNoPhotos) {
				logger.WithField("bucket", store.BucketDir(started)).Error("No photo captured today")
			} else {
				logger.WithError(err).Error("Failed to find today's photo")
			}
			return 1
		}
		req.PhotoPath = latest.Path
		req.CapturedAt = latest.TakenAt
	}

	if req.Kind == notify.Photo && !*testMode && !*force && !ctrl.Due(ctx, req.PhotoPath) {
		logger.WithField("photo", req.PhotoPath).Info("Photo already sent, skipping")
		return 0
	}

	res := ctrl.Notify(ctx, req)

	code := 0
	if res.Status != notify.Sent {
		code = 1
	}

	a.Record(ctx, journal.Run{
		Step:      journal.StepNotify,
		StartedAt: started,
		State:     string(res.Status),
		ExitCode:  code,
		PhotoPath: req.PhotoPath,
		Reason:    runReason(res),
		Attempts:  res.Attempts,
	}, 0, 0)

	if code != 0 {
		fmt.Fprintf(os.Stderr, "notification failed: %s: %v\n", res.Reason, res.Err)
	}
	return code
}

// runReason is the journal reason for res. A degraded attachment is noted
// next to any delivery failure.
func runReason(res notify.Result) string {
	var parts []string
	if res.Status != notify.Sent && res.Reason != "" {
		parts = append(parts, string(res.Reason))
	}
	if res.Degraded {
		parts = append(parts, "AttachmentUnreadable")
	}
	return strings.Join(parts, ", ")
}
