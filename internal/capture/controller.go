package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"watchpot/internal/camera"
	"watchpot/internal/config"
	"watchpot/internal/lock"
	"watchpot/internal/retry"
	"watchpot/internal/schedule"
	"watchpot/internal/storage"
)

// Archiver copies a captured photo somewhere else
type Archiver interface {
	Upload(ctx context.Context, photoPath string) error
}

// Controller runs capture invocations against one photos directory
type Controller struct {
	cfg       config.Config
	source    camera.Source
	gate      schedule.Gate
	policy    retry.Policy
	retention storage.RetentionPolicy
	archiver  Archiver
	freeSpace func(path string) (uint64, error)
	now       func() time.Time
	log       logrus.FieldLogger
}

// Option customizes a Controller
type Option func(*Controller)

// WithRetryPolicy overrides the camera retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithArchiver uploads every successful capture
func WithArchiver(a Archiver) Option {
	return func(c *Controller) { c.archiver = a }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithFreeSpace replaces the free-space probe
func WithFreeSpace(probe func(path string) (uint64, error)) Option {
	return func(c *Controller) { c.freeSpace = probe }
}

// New creates a capture controller
func New(cfg config.Config, source camera.Source, log logrus.FieldLogger, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		source: source,
		gate:   schedule.FromConfig(cfg),
		policy: retry.Policy{
			MaxAttempts: cfg.CaptureMaxAttempts,
			Delay:       cfg.CaptureRetryDelay,
			Strategy:    retry.Strategy(cfg.RetryBackoff),
		},
		retention: storage.RetentionPolicy{
			MaxBuckets:   cfg.MaxPhotosKeep,
			MaxAgeDays:   cfg.MaxPhotoAgeDays,
			MaxPerBucket: cfg.MaxPhotosPerBucket,
		},
		freeSpace: storage.FreeSpaceMB,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRequest builds a request from the configuration
func (c *Controller) NewRequest(force bool, label time.Time) Request {
	return Request{
		Width:     c.cfg.PhotoWidth,
		Height:    c.cfg.PhotoHeight,
		Quality:   c.cfg.PhotoQuality,
		OutputDir: c.cfg.PhotosDir,
		Force:     force,
		Label:     label,
	}
}

// Capture takes at most one photo. The directory lock is held from before
// the disk check until after retention, and released on every path.
func (c *Controller) Capture(ctx context.Context, req Request) Result {
	label := req.Label
	if label.IsZero() {
		label = c.now()
	}
	store := storage.New(req.OutputDir, c.cfg.PhotoPrefix, c.log)
	logger := c.log.WithField("output_dir", req.OutputDir)

	if !req.Force {
		decision, err := c.check(store, label)
		if err != nil {
			return c.fail(Result{Reason: FilesystemError, Err: err})
		}
		if !decision.Due {
			logger.WithField("reason", decision.Reason).Info("Capture not due, skipping")
			return Result{Outcome: Skipped, SkipReason: decision.Reason}
		}
	}

	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return c.fail(Result{Reason: FilesystemError, Err: fmt.Errorf("failed to create photos directory: %w", err)})
	}

	l, err := lock.Acquire(ctx, req.OutputDir, c.cfg.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return c.fail(Result{Reason: AlreadyRunning, Err: err})
		}
		return c.fail(Result{Reason: FilesystemError, Err: err})
	}
	defer func() {
		if err := l.Release(); err != nil {
			logger.WithError(err).Warn("Failed to release capture lock")
		}
	}()

	if free, err := c.freeSpace(req.OutputDir); err != nil {
		logger.WithError(err).Warn("Could not determine free space")
	} else if free < c.cfg.MinFreeSpaceMB {
		return c.fail(Result{
			Reason: InsufficientSpace,
			Err:    fmt.Errorf("%d MB free, need %d MB", free, c.cfg.MinFreeSpaceMB),
		})
	}

	if err := os.MkdirAll(store.BucketDir(label), 0755); err != nil {
		return c.fail(Result{Reason: FilesystemError, Err: fmt.Errorf("failed to create bucket: %w", err)})
	}

	path, err := store.NextPhotoPath(label)
	if err != nil {
		return c.fail(Result{Reason: FilesystemError, Err: err})
	}

	res := c.shoot(ctx, req, path)
	if res.Outcome != Success {
		return c.fail(res)
	}
	res.TakenAt = label

	logger.WithFields(logrus.Fields{
		"photo":    res.PhotoPath,
		"size":     res.SizeBytes,
		"attempts": res.Attempts,
	}).Info("Photo captured")

	if c.archiver != nil {
		if err := c.archiver.Upload(ctx, res.PhotoPath); err != nil {
			logger.WithError(err).WithField("photo", res.PhotoPath).Warn("Archive upload failed")
		}
	}
	c.retain(store)

	return res
}

// shoot runs the image source under the retry policy. path is a name no
// other photo uses, so anything found there was written by these attempts.
// Each attempt runs to completion or to the camera timeout; cancelling ctx
// only stops further attempts.
func (c *Controller) shoot(ctx context.Context, req Request, path string) Result {
	shot := camera.Shot{Path: path, Width: req.Width, Height: req.Height, Quality: req.Quality}
	attemptCtx := context.WithoutCancel(ctx)
	var size int64

	attempts, err := retry.Do(ctx, c.policy, func(attempt int) error {
		if err := c.source.Capture(attemptCtx, shot); err != nil {
			os.Remove(path)
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("camera produced no file: %w", err)
		}
		if info.Size() == 0 {
			os.Remove(path)
			return errors.New("camera produced an empty file")
		}
		size = info.Size()
		return nil
	}, func(attempt int, err error, next time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.policy.MaxAttempts,
			"retry_in":     next.String(),
		}).Warn("Capture attempt failed")
	})

	if err != nil {
		return Result{Outcome: Failure, Reason: CaptureExhausted, Attempts: attempts, Err: err}
	}
	return Result{Outcome: Success, PhotoPath: path, SizeBytes: size, Attempts: attempts}
}

func (c *Controller) check(store *storage.Store, now time.Time) (schedule.Decision, error) {
	photos, err := store.Photos(store.BucketDir(now))
	if err != nil {
		return schedule.Decision{}, err
	}
	times := make([]time.Time, 0, len(photos))
	for _, p := range photos {
		times = append(times, p.TakenAt)
	}
	return c.gate.Check(now, times), nil
}

func (c *Controller) retain(store *storage.Store) []storage.Removal {
	removed, err := store.ApplyRetention(c.now(), c.retention)
	if err != nil {
		c.log.WithError(err).Error("Retention pass incomplete")
	}
	return removed
}

func (c *Controller) fail(res Result) Result {
	res.Outcome = Failure
	c.log.WithFields(logrus.Fields{
		"reason":   string(res.Reason),
		"attempts": res.Attempts,
	}).Errorf("CAPTURE ERROR: %s", res.Message())
	return res
}

// Cleanup runs a retention pass under the directory lock without capturing
func (c *Controller) Cleanup(ctx context.Context) ([]storage.Removal, error) {
	if _, err := os.Stat(c.cfg.PhotosDir); os.IsNotExist(err) {
		return nil, nil
	}

	l, err := lock.Acquire(ctx, c.cfg.PhotosDir, c.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	store := storage.New(c.cfg.PhotosDir, c.cfg.PhotoPrefix, c.log)
	removed, err := store.ApplyRetention(c.now(), c.retention)
	c.log.WithField("removed", len(removed)).Info("Cleanup completed")
	return removed, err
}

// Inventory lists the stored buckets and photos without locking
func (c *Controller) Inventory() ([]storage.Bucket, error) {
	return storage.New(c.cfg.PhotosDir, c.cfg.PhotoPrefix, c.log).Inventory()
}
