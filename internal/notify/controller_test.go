package notify

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

	"watchpot/internal/config"
	"watchpot/internal/retry"
	"watchpot/internal/telemetry"
)

type fakeTransport struct {
	failures int
	fail     func(msg Message) error
	sent     []Message
}

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	if f.fail != nil {
		return f.fail(msg)
	}
	if len(f.sent) <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

type fakeCollector struct {
	snap  telemetry.Snapshot
	calls int
}

func (f *fakeCollector) Collect(ctx context.Context) telemetry.Snapshot {
	f.calls++
	return f.snap
}

type memoryLedger map[string]time.Time

func (l memoryLedger) WasNotified(ctx context.Context, path string) (bool, error) {
	_, ok := l[path]
	return ok, nil
}

func (l memoryLedger) MarkNotified(ctx context.Context, path string, at time.Time) error {
	l[path] = at
	return nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 5, 0, time.Local)

func mailConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.SMTPServer = "smtp.example.com"
	cfg.SenderEmail = "pot@example.com"
	cfg.SenderPassword = "secret"
	cfg.Recipients = []string{"a@example.com", "b@example.com"}
	cfg.LogDir = t.TempDir()
	return cfg
}

func newTestController(cfg config.Config, tr Transport, col telemetry.Collector, opts ...Option) *Controller {
	log := logrus.New()
	log.SetOutput(io.Discard)
	base := []Option{
		WithRetryPolicy(retry.Immediate(cfg.NotifyMaxAttempts)),
		WithClock(func() time.Time { return fixedNow }),
	}
	return New(cfg, tr, col, log, append(base, opts...)...)
}

func writeJPEG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchpot_20240601_120000.jpg")
	if err := WritePlaceholder(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNotify_PhotoSent(t *testing.T) {
	cfg := mailConfig(t)
	tr := &fakeTransport{}
	col := &fakeCollector{snap: telemetry.Snapshot{Hostname: "pi"}}
	photo := writeJPEG(t)

	c := newTestController(cfg, tr, col)
	res := c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: photo})

	if res.Status != Sent || res.Attempts != 1 || res.Degraded {
		t.Fatalf("Unexpected result: %+v", res)
	}
	if col.calls != 1 {
		t.Errorf("Expected a fresh snapshot, collector called %d times", col.calls)
	}
	msg := tr.sent[0]
	if msg.Subject != "WatchPot Alert - 2024-06-01 12:00:05" {
		t.Errorf("Unexpected subject %q", msg.Subject)
	}
	if msg.Attachment != photo {
		t.Errorf("Expected attachment %s, got %q", photo, msg.Attachment)
	}
	if len(msg.To) != 2 {
		t.Errorf("Expected both recipients, got %v", msg.To)
	}
	if !strings.Contains(msg.Body, "SYSTEM INFORMATION") || !strings.Contains(msg.Body, "Hostname:   pi") {
		t.Errorf("Body missing system information:\n%s", msg.Body)
	}
}

func TestNotify_UsesSuppliedSnapshot(t *testing.T) {
	cfg := mailConfig(t)
	col := &fakeCollector{}
	c := newTestController(cfg, &fakeTransport{}, col)

	snap := telemetry.Snapshot{Hostname: "given"}
	c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: writeJPEG(t), Snapshot: &snap})

	if col.calls != 0 {
		t.Errorf("Collector should not run when a snapshot is supplied")
	}
}

func TestNotify_ConfigurationInvalid(t *testing.T) {
	cfg := mailConfig(t)
	cfg.SenderPassword = ""
	cfg.Recipients = nil
	tr := &fakeTransport{}

	c := newTestController(cfg, tr, &fakeCollector{})
	res := c.Notify(context.Background(), Request{Kind: Error, ErrorMessage: "boom"})

	if res.Status != Failed || res.Reason != ConfigurationInvalid || res.Attempts != 0 {
		t.Fatalf("Expected ConfigurationInvalid without attempts, got %+v", res)
	}
	if !errors.Is(res.Err, ErrConfigurationInvalid) {
		t.Errorf("Expected ErrConfigurationInvalid, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "SENDER_PASSWORD, RECIPIENTS") {
		t.Errorf("Expected missing keys named, got %v", res.Err)
	}
	if len(tr.sent) != 0 {
		t.Error("Transport must not be called")
	}
}

func TestNotify_RetriesThenSends(t *testing.T) {
	cfg := mailConfig(t)
	tr := &fakeTransport{failures: 2}
	c := newTestController(cfg, tr, &fakeCollector{})

	res := c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: writeJPEG(t)})
	if res.Status != Sent || res.Attempts != 3 {
		t.Errorf("Expected success on third attempt, got %+v", res)
	}
}

func TestNotify_TransportExhausted(t *testing.T) {
	cfg := mailConfig(t)
	tr := &fakeTransport{failures: 100}
	c := newTestController(cfg, tr, &fakeCollector{})

	res := c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: writeJPEG(t)})
	if res.Status != Failed || res.Reason != TransportExhausted || res.Attempts != 3 {
		t.Errorf("Expected TransportExhausted after 3 attempts, got %+v", res)
	}
}

func TestNotify_RetriesOnlyFailedRecipients(t *testing.T) {
	cfg := mailConfig(t)
	calls := 0
	tr := &fakeTransport{fail: func(msg Message) error {
		calls++
		if calls == 1 {
			return &PartialError{Failed: []string{"b@example.com"}, Err: errors.New("mailbox busy")}
		}
		return nil
	}}
	c := newTestController(cfg, tr, &fakeCollector{})

	res := c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: writeJPEG(t)})
	if res.Status != Sent || res.Attempts != 2 {
		t.Fatalf("Expected success on retry, got %+v", res)
	}
	if got := tr.sent[1].To; len(got) != 1 || got[0] != "b@example.com" {
		t.Errorf("Expected retry to target b@example.com only, got %v", got)
	}
}

func TestNotify_SignalDoesNotInterruptDelivery(t *testing.T) {
	cfg := mailConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCanceled bool
	tr := &fakeTransport{}
	tr.fail = func(Message) error {
		cancel()
		if len(tr.sent) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	c := newTestController(cfg, sendCtxRecorder{tr, &sawCanceled}, &fakeCollector{})

	res := c.Notify(ctx, Request{Kind: Photo, PhotoPath: writeJPEG(t)})

	if sawCanceled {
		t.Error("Delivery saw a canceled context")
	}
	if res.Status != Failed || res.Attempts != 1 || len(tr.sent) != 1 {
		t.Errorf("Expected no retry after cancellation, got %+v sends=%d", res, len(tr.sent))
	}
}

func TestNotify_ErrorReportSentAfterCancellation(t *testing.T) {
	cfg := mailConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawCanceled bool
	tr := &fakeTransport{}
	c := newTestController(cfg, sendCtxRecorder{tr, &sawCanceled}, &fakeCollector{})

	res := c.Notify(ctx, Request{Kind: Error, ErrorMessage: "CaptureExhausted after 1 attempts"})
	if res.Status != Sent || sawCanceled {
		t.Errorf("Expected the error report delivered on a live context, got %+v canceled=%v", res, sawCanceled)
	}
}

// sendCtxRecorder notes whether a send was handed a canceled context
type sendCtxRecorder struct {
	next     Transport
	canceled *bool
}

func (r sendCtxRecorder) Send(ctx context.Context, msg Message) error {
	if ctx.Err() != nil {
		*r.canceled = true
	}
	return r.next.Send(ctx, msg)
}

func TestNotify_DegradesWhenPhotoUnreadable(t *testing.T) {
	cfg := mailConfig(t)
	tr := &fakeTransport{}
	c := newTestController(cfg, tr, &fakeCollector{})

	missing := filepath.Join(t.TempDir(), "gone.jpg")
	res := c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: missing})

	if res.Status != Sent || !res.Degraded {
		t.Fatalf("Expected degraded send, got %+v", res)
	}
	msg := tr.sent[0]
	if msg.Attachment != "" {
		t.Errorf("Expected no attachment, got %s", msg.Attachment)
	}
	if !strings.Contains(msg.Body, "Attachment unavailable:") {
		t.Errorf("Body should explain the missing attachment:\n%s", msg.Body)
	}
}

func TestNotify_ErrorIncludesReasonAndLogs(t *testing.T) {
	cfg := mailConfig(t)
	os.WriteFile(filepath.Join(cfg.LogDir, "capture.log"), []byte("line one\nCAPTURE ERROR: CaptureExhausted\n"), 0644)
	tr := &fakeTransport{}
	c := newTestController(cfg, tr, &fakeCollector{})

	res := c.Notify(context.Background(), Request{Kind: Error, ErrorMessage: "CaptureExhausted after 3 attempts"})
	if res.Status != Sent {
		t.Fatalf("Expected sent, got %+v", res)
	}

	msg := tr.sent[0]
	if msg.Subject != "WatchPot ERROR - 2024-06-01 12:00:05" {
		t.Errorf("Unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"PHOTO CAPTURE FAILED!", "CaptureExhausted after 3 attempts", "RECENT ERROR LOGS", "--- capture.log (last 2 lines) ---"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("Body missing %q:\n%s", want, msg.Body)
		}
	}
	if msg.Attachment != "" {
		t.Error("Error notifications carry no attachment")
	}
}

func TestNotify_PhotoLogsOnlyWhenErrorsExist(t *testing.T) {
	cfg := mailConfig(t)
	tr := &fakeTransport{}
	c := newTestController(cfg, tr, &fakeCollector{})

	c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: writeJPEG(t)})
	if strings.Contains(tr.sent[0].Body, "RECENT ERROR LOGS") {
		t.Error("No error log section expected without errors")
	}

	os.WriteFile(filepath.Join(cfg.LogDir, "errors.log"), []byte("camera timeout\n"), 0644)
	c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: writeJPEG(t)})
	if !strings.Contains(tr.sent[1].Body, "camera timeout") {
		t.Errorf("Expected error log section:\n%s", tr.sent[1].Body)
	}
}

func TestDue_UsesLedger(t *testing.T) {
	cfg := mailConfig(t)
	ledger := memoryLedger{}
	c := newTestController(cfg, &fakeTransport{}, &fakeCollector{}, WithLedger(ledger))
	photo := writeJPEG(t)

	if !c.Due(context.Background(), photo) {
		t.Fatal("Expected fresh photo to be due")
	}
	if res := c.Notify(context.Background(), Request{Kind: Photo, PhotoPath: photo}); res.Status != Sent {
		t.Fatalf("Notify failed: %+v", res)
	}
	if c.Due(context.Background(), photo) {
		t.Error("Expected photo not due after being sent")
	}
}
