package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPath is where the scheduler entries point the executables by default
const DefaultPath = "/etc/watchpot/watchpot.conf"

// Config is the immutable runtime configuration shared by every executable.
// It is built once by Load and passed by value into each component.
type Config struct {
	// Source is the file the values were read from, empty when defaults were used
	Source string

	PhotoWidth   int
	PhotoHeight  int
	PhotoQuality int
	PhotosDir    string
	PhotoPrefix  string

	MaxPhotosKeep      int
	MaxPhotoAgeDays    int
	MaxPhotosPerBucket int

	DailyTime       string
	DailyAt         time.Duration // offset from local midnight, derived from DailyTime
	PhotosPerDay    int
	CaptureInterval time.Duration
	MinFreeSpaceMB  uint64

	CameraCommand string
	CameraArgs    []string
	CameraTimeout time.Duration

	CaptureMaxAttempts int
	CaptureRetryDelay  time.Duration
	RetryBackoff       string
	LockWait           time.Duration

	SMTPServer     string
	SMTPPort       int
	UseTLS         bool
	SMTPTimeout    time.Duration
	SMTPSendRate   float64
	SenderEmail    string
	SenderPassword string
	Recipients     []string
	EmailSubject   string
	EmailBody      string
	SendErrorLogs  bool
	ErrorLogLines  int

	NotifyMaxAttempts int
	NotifyRetryDelay  time.Duration

	PublicIPURL     string
	PublicIPTimeout time.Duration

	LogLevel  string
	LogFormat string
	LogDir    string

	JournalPath     string
	MetricsTextfile string

	ArchiveBucket string
	ArchiveRegion string
	ArchivePrefix string
}

// Default returns the configuration used when no file is present
func Default() Config {
	return Config{
		PhotoWidth:   1920,
		PhotoHeight:  1080,
		PhotoQuality: 95,
		PhotosDir:    "/var/lib/watchpot/photos",
		PhotoPrefix:  "watchpot",

		MaxPhotosKeep: 30,

		DailyTime:      "12:00",
		DailyAt:        12 * time.Hour,
		PhotosPerDay:   1,
		MinFreeSpaceMB: 100,

		CameraCommand: "rpicam-still",
		CameraTimeout: 60 * time.Second,

		CaptureMaxAttempts: 3,
		CaptureRetryDelay:  30 * time.Second,
		RetryBackoff:       "constant",
		LockWait:           2 * time.Second,

		SMTPPort:      587,
		UseTLS:        true,
		SMTPTimeout:   30 * time.Second,
		SMTPSendRate:  1,
		EmailSubject:  "WatchPot Alert - {timestamp}",
		EmailBody:     "New photo captured by WatchPot on {timestamp}.\n\nSee attachment for details.",
		SendErrorLogs: true,
		ErrorLogLines: 20,

		NotifyMaxAttempts: 3,
		NotifyRetryDelay:  30 * time.Second,

		PublicIPURL:     "https://api.ipify.org",
		PublicIPTimeout: 10 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",
		LogDir:    "/var/log/watchpot",

		JournalPath: "/var/lib/watchpot/journal.db",

		ArchiveRegion: "us-east-1",
		ArchivePrefix: "watchpot/",
	}
}

// Validate reports every invalid value at once
func (c Config) Validate() error {
	var errs []error

	if c.PhotoWidth <= 0 {
		errs = append(errs, fmt.Errorf("PHOTO_WIDTH must be positive, got %d", c.PhotoWidth))
	}
	if c.PhotoHeight <= 0 {
		errs = append(errs, fmt.Errorf("PHOTO_HEIGHT must be positive, got %d", c.PhotoHeight))
	}
	if c.PhotoQuality < 1 || c.PhotoQuality > 100 {
		errs = append(errs, fmt.Errorf("PHOTO_QUALITY must be within 1-100, got %d", c.PhotoQuality))
	}
	if strings.TrimSpace(c.PhotosDir) == "" {
		errs = append(errs, errors.New("PHOTOS_DIR must not be empty"))
	}
	if strings.ContainsAny(c.PhotoPrefix, `/\`) || c.PhotoPrefix == "" {
		errs = append(errs, fmt.Errorf("PHOTO_PREFIX must be a plain file name prefix, got %q", c.PhotoPrefix))
	}
	if _, err := ParseClock(c.DailyTime); err != nil {
		errs = append(errs, fmt.Errorf("DAILY_TIME: %w", err))
	}
	if c.MaxPhotosKeep < 0 || c.MaxPhotoAgeDays < 0 || c.MaxPhotosPerBucket < 0 || c.PhotosPerDay < 0 {
		errs = append(errs, errors.New("retention and per-day limits must not be negative"))
	}
	if c.CaptureMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CAPTURE_MAX_ATTEMPTS must be at least 1, got %d", c.CaptureMaxAttempts))
	}
	if c.NotifyMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be at least 1, got %d", c.NotifyMaxAttempts))
	}
	switch c.RetryBackoff {
	case "constant", "exponential":
	default:
		errs = append(errs, fmt.Errorf("RETRY_BACKOFF must be constant or exponential, got %q", c.RetryBackoff))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("SMTP_PORT out of range: %d", c.SMTPPort))
	}
	if c.SMTPSendRate <= 0 {
		errs = append(errs, fmt.Errorf("SMTP_SEND_RATE must be positive, got %v", c.SMTPSendRate))
	}

	return errors.Join(errs...)
}

// ParseClock parses an HH:MM time of day into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
