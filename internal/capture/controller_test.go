package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"watchpot/internal/camera"
	"watchpot/internal/config"
	"watchpot/internal/lock"
	"watchpot/internal/retry"
	"watchpot/internal/storage"
)

// fakeSource fails the first failures calls, then writes content
type fakeSource struct {
	failures int
	content  string
	calls    int
}

func (f *fakeSource) Capture(ctx context.Context, shot camera.Shot) error {
	f.calls++
	if f.calls <= f.failures {
		// leave a partial file behind like a crashed tool would
		os.WriteFile(shot.Path, []byte("partial"), 0644)
		return errors.New("camera not detected")
	}
	return os.WriteFile(shot.Path, []byte(f.content), 0644)
}

type fakeArchiver struct {
	uploaded []string
	err      error
}

func (a *fakeArchiver) Upload(ctx context.Context, path string) error {
	a.uploaded = append(a.uploaded, path)
	return a.err
}

var noon = time.Date(2024, 6, 1, 12, 30, 0, 0, time.Local)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.PhotosDir = filepath.Join(t.TempDir(), "photos")
	cfg.LockWait = 50 * time.Millisecond
	return cfg
}

func newController(cfg config.Config, src camera.Source, opts ...Option) *Controller {
	base := []Option{
		WithRetryPolicy(retry.Immediate(cfg.CaptureMaxAttempts)),
		WithClock(func() time.Time { return noon }),
		WithFreeSpace(func(string) (uint64, error) { return 10_000, nil }),
	}
	return New(cfg, src, testLogger(), append(base, opts...)...)
}

func TestCapture_Success(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{content: "jpeg"}
	arch := &fakeArchiver{}
	c := newController(cfg, src, WithArchiver(arch))

	res := c.Capture(context.Background(), c.NewRequest(false, time.Time{}))

	if res.Outcome != Success {
		t.Fatalf("Expected success, got %s", res.Message())
	}
	want := filepath.Join(cfg.PhotosDir, "daily_20240601", "watchpot_20240601_123000.jpg")
	if res.PhotoPath != want {
		t.Errorf("Expected %s, got %s", want, res.PhotoPath)
	}
	if res.SizeBytes != 4 || res.Attempts != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}
	if len(arch.uploaded) != 1 || arch.uploaded[0] != want {
		t.Errorf("Expected photo archived, got %v", arch.uploaded)
	}
	if _, err := os.Stat(filepath.Join(cfg.PhotosDir, lock.FileName)); !os.IsNotExist(err) {
		t.Error("Expected lock released after capture")
	}
}

func TestCapture_SkipsWithoutTouchingDisk(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{content: "jpeg"}
	c := newController(cfg, src)

	early := time.Date(2024, 6, 1, 8, 0, 0, 0, time.Local)
	res := c.Capture(context.Background(), c.NewRequest(false, early))

	if res.Outcome != Skipped {
		t.Fatalf("Expected skip, got %s", res.Message())
	}
	if src.calls != 0 {
		t.Errorf("Expected no camera calls, got %d", src.calls)
	}
	if _, err := os.Stat(cfg.PhotosDir); !os.IsNotExist(err) {
		t.Error("Expected no filesystem writes on skip")
	}
}

func TestCapture_SkipsWhenDailyLimitReached(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{content: "jpeg"}
	c := newController(cfg, src)

	if res := c.Capture(context.Background(), c.NewRequest(false, noon)); res.Outcome != Success {
		t.Fatalf("First capture failed: %s", res.Message())
	}
	res := c.Capture(context.Background(), c.NewRequest(false, noon.Add(time.Hour)))
	if res.Outcome != Skipped || !strings.Contains(res.SkipReason, "daily limit") {
		t.Errorf("Expected daily limit skip, got %+v", res)
	}

	res = c.Capture(context.Background(), c.NewRequest(true, noon.Add(2*time.Hour)))
	if res.Outcome != Success {
		t.Errorf("Expected forced capture to succeed, got %s", res.Message())
	}
}

func TestCapture_RetriesThenSucceeds(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{failures: 2, content: "jpeg"}
	c := newController(cfg, src)

	res := c.Capture(context.Background(), c.NewRequest(true, noon))
	if res.Outcome != Success || res.Attempts != 3 {
		t.Fatalf("Expected success on third attempt, got %+v", res)
	}
	data, _ := os.ReadFile(res.PhotoPath)
	if string(data) != "jpeg" {
		t.Errorf("Expected final image content, got %q", data)
	}
}

func TestCapture_Exhausted(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{failures: 100}
	c := newController(cfg, src)

	res := c.Capture(context.Background(), c.NewRequest(true, noon))

	if res.Outcome != Failure || res.Reason != CaptureExhausted {
		t.Fatalf("Expected CaptureExhausted, got %+v", res)
	}
	if res.Attempts != cfg.CaptureMaxAttempts || src.calls != cfg.CaptureMaxAttempts {
		t.Errorf("Expected %d attempts, got attempts=%d calls=%d", cfg.CaptureMaxAttempts, res.Attempts, src.calls)
	}
	if !strings.Contains(res.Message(), "CaptureExhausted") {
		t.Errorf("Message should name the reason: %s", res.Message())
	}
	photos, _ := filepath.Glob(filepath.Join(cfg.PhotosDir, "daily_*", "*.jpg"))
	if len(photos) != 0 {
		t.Errorf("Expected partial files removed, found %v", photos)
	}
}

func TestCapture_EmptyFileIsAFailedAttempt(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{content: ""}
	c := newController(cfg, src)

	res := c.Capture(context.Background(), c.NewRequest(true, noon))
	if res.Reason != CaptureExhausted {
		t.Fatalf("Expected CaptureExhausted, got %+v", res)
	}
	if !strings.Contains(res.Err.Error(), "empty") {
		t.Errorf("Expected empty-file error, got %v", res.Err)
	}
}

func TestCapture_AlreadyRunning(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.PhotosDir, 0755); err != nil {
		t.Fatal(err)
	}
	held, err := lock.Acquire(context.Background(), cfg.PhotosDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()
	before, _ := os.ReadFile(held.Path())

	// the holder is midway through writing the photo for the same stamp
	store := storage.New(cfg.PhotosDir, cfg.PhotoPrefix, testLogger())
	inProgress := store.PhotoPath(noon)
	if err := os.MkdirAll(filepath.Dir(inProgress), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inProgress, []byte("half a jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{content: "jpeg"}
	c := newController(cfg, src)
	res := c.Capture(context.Background(), c.NewRequest(true, noon))

	if res.Reason != AlreadyRunning || res.Attempts != 0 {
		t.Fatalf("Expected AlreadyRunning without attempts, got %+v", res)
	}
	if src.calls != 0 {
		t.Errorf("Expected no camera calls, got %d", src.calls)
	}
	after, err := os.ReadFile(held.Path())
	if err != nil || string(after) != string(before) {
		t.Errorf("Holder's lock file was modified: %q -> %q (%v)", before, after, err)
	}
	if data, err := os.ReadFile(inProgress); err != nil || string(data) != "half a jpeg" {
		t.Errorf("Holder's photo was touched: %q (%v)", data, err)
	}
}

func TestCapture_SameStampKeepsEarlierPhoto(t *testing.T) {
	cfg := testConfig(t)
	first := newController(cfg, &fakeSource{content: "first"})
	res := first.Capture(context.Background(), first.NewRequest(true, noon))
	if res.Outcome != Success {
		t.Fatalf("First capture failed: %s", res.Message())
	}
	kept := res.PhotoPath

	broken := newController(cfg, &fakeSource{failures: 100})
	if res := broken.Capture(context.Background(), broken.NewRequest(true, noon)); res.Reason != CaptureExhausted {
		t.Fatalf("Expected CaptureExhausted, got %+v", res)
	}
	if data, err := os.ReadFile(kept); err != nil || string(data) != "first" {
		t.Fatalf("Earlier photo lost: %q (%v)", data, err)
	}

	again := newController(cfg, &fakeSource{content: "second"})
	res = again.Capture(context.Background(), again.NewRequest(true, noon))
	if res.Outcome != Success {
		t.Fatalf("Third capture failed: %s", res.Message())
	}
	if res.PhotoPath == kept || filepath.Base(res.PhotoPath) != "watchpot_20240601_123000_01.jpg" {
		t.Errorf("Expected a numbered name, got %s", res.PhotoPath)
	}
	if data, _ := os.ReadFile(kept); string(data) != "first" {
		t.Errorf("Earlier photo overwritten: %q", data)
	}
}

// cancelingSource cancels the caller's context while it is running, like a
// signal arriving mid-capture
type cancelingSource struct {
	cancel   context.CancelFunc
	fail     bool
	calls    int
	canceled bool
}

func (s *cancelingSource) Capture(ctx context.Context, shot camera.Shot) error {
	s.calls++
	s.cancel()
	if ctx.Err() != nil {
		s.canceled = true
		return ctx.Err()
	}
	if s.fail {
		return errors.New("camera not detected")
	}
	return os.WriteFile(shot.Path, []byte("jpeg"), 0644)
}

func TestCapture_SignalDoesNotInterruptAttempt(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{cancel: cancel}
	c := newController(cfg, src)

	res := c.Capture(ctx, c.NewRequest(true, noon))

	if src.canceled {
		t.Error("Attempt saw a canceled context")
	}
	if res.Outcome != Success {
		t.Errorf("Expected the running attempt to finish, got %s", res.Message())
	}
}

func TestCapture_SignalStopsFurtherAttempts(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{cancel: cancel, fail: true}
	c := newController(cfg, src)

	res := c.Capture(ctx, c.NewRequest(true, noon))

	if res.Outcome != Failure || res.Attempts != 1 || src.calls != 1 {
		t.Fatalf("Expected one attempt then stop, got %+v calls=%d", res, src.calls)
	}
	if !errors.Is(res.Err, context.Canceled) || !strings.Contains(res.Err.Error(), "camera not detected") {
		t.Errorf("Expected cancellation and the attempt's error, got %v", res.Err)
	}
}

func TestCapture_InsufficientSpace(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{content: "jpeg"}
	c := newController(cfg, src, WithFreeSpace(func(string) (uint64, error) { return 5, nil }))

	res := c.Capture(context.Background(), c.NewRequest(true, noon))
	if res.Reason != InsufficientSpace {
		t.Fatalf("Expected InsufficientSpace, got %+v", res)
	}
	if src.calls != 0 {
		t.Errorf("Expected no camera calls, got %d", src.calls)
	}
}

func TestCapture_ArchiveFailureKeepsSuccess(t *testing.T) {
	cfg := testConfig(t)
	arch := &fakeArchiver{err: errors.New("access denied")}
	c := newController(cfg, &fakeSource{content: "jpeg"}, WithArchiver(arch))

	if res := c.Capture(context.Background(), c.NewRequest(true, noon)); res.Outcome != Success {
		t.Errorf("Expected success despite archive failure, got %s", res.Message())
	}
}

func TestCapture_AppliesRetentionAfterSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPhotosKeep = 2
	store := storage.New(cfg.PhotosDir, cfg.PhotoPrefix, testLogger())
	for i := 1; i <= 3; i++ {
		p := store.PhotoPath(noon.AddDate(0, 0, -i))
		os.MkdirAll(filepath.Dir(p), 0755)
		os.WriteFile(p, []byte("old"), 0644)
	}

	c := newController(cfg, &fakeSource{content: "jpeg"})
	if res := c.Capture(context.Background(), c.NewRequest(true, noon)); res.Outcome != Success {
		t.Fatalf("Capture failed: %s", res.Message())
	}

	buckets, _ := store.Buckets()
	if len(buckets) != 2 {
		t.Fatalf("Expected 2 buckets after retention, got %d", len(buckets))
	}
	if buckets[1].Name != "daily_20240601" {
		t.Errorf("Expected today's bucket kept, got %s", buckets[1].Name)
	}
}

func TestCleanup_RemovesOldestBuckets(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPhotosKeep = 2
	store := storage.New(cfg.PhotosDir, cfg.PhotoPrefix, testLogger())
	for i := 0; i < 5; i++ {
		p := store.PhotoPath(noon.AddDate(0, 0, -i))
		os.MkdirAll(filepath.Dir(p), 0755)
		os.WriteFile(p, []byte("x"), 0644)
	}

	src := &fakeSource{}
	c := newController(cfg, src)
	removed, err := c.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("Expected 3 buckets removed, got %d", len(removed))
	}
	if src.calls != 0 {
		t.Error("Cleanup must not capture")
	}

	inv, _ := c.Inventory()
	if len(inv) != 2 {
		t.Errorf("Expected 2 buckets in inventory, got %d", len(inv))
	}
}

func TestResult_Message(t *testing.T) {
	res := Result{Outcome: Failure, Reason: CaptureExhausted, Attempts: 3, Err: errors.New("no camera")}
	if got := res.Message(); got != "CaptureExhausted after 3 attempts: no camera" {
		t.Errorf("Unexpected message %q", got)
	}
}
