package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// aliases maps keys used by the older JSON config files onto current names
var aliases = map[string]string{
	"SUBJECT_TEMPLATE": "EMAIL_SUBJECT",
	"BODY_TEMPLATE":    "EMAIL_BODY",
}

type setter func(c *Config, v string) error

var fields = map[string]setter{
	"PHOTO_WIDTH":           intVar(func(c *Config) *int { return &c.PhotoWidth }),
	"PHOTO_HEIGHT":          intVar(func(c *Config) *int { return &c.PhotoHeight }),
	"PHOTO_QUALITY":         intVar(func(c *Config) *int { return &c.PhotoQuality }),
	"PHOTOS_DIR":            stringVar(func(c *Config) *string { return &c.PhotosDir }),
	"PHOTO_PREFIX":          stringVar(func(c *Config) *string { return &c.PhotoPrefix }),
	"MAX_PHOTOS_KEEP":       intVar(func(c *Config) *int { return &c.MaxPhotosKeep }),
	"MAX_PHOTO_AGE_DAYS":    intVar(func(c *Config) *int { return &c.MaxPhotoAgeDays }),
	"MAX_PHOTOS_PER_BUCKET": intVar(func(c *Config) *int { return &c.MaxPhotosPerBucket }),
	"DAILY_TIME":            dailyTimeVar,
	"PHOTOS_PER_DAY":        intVar(func(c *Config) *int { return &c.PhotosPerDay }),
	"CAPTURE_INTERVAL":      durationVar(func(c *Config) *time.Duration { return &c.CaptureInterval }),
	"MIN_FREE_SPACE_MB":     uintVar(func(c *Config) *uint64 { return &c.MinFreeSpaceMB }),
	"CAMERA_COMMAND":        stringVar(func(c *Config) *string { return &c.CameraCommand }),
	"CAMERA_ARGS":           fieldsVar(func(c *Config) *[]string { return &c.CameraArgs }),
	"CAMERA_TIMEOUT":        durationVar(func(c *Config) *time.Duration { return &c.CameraTimeout }),
	"CAPTURE_MAX_ATTEMPTS":  intVar(func(c *Config) *int { return &c.CaptureMaxAttempts }),
	"CAPTURE_RETRY_DELAY":   durationVar(func(c *Config) *time.Duration { return &c.CaptureRetryDelay }),
	"RETRY_BACKOFF":         lowerVar(func(c *Config) *string { return &c.RetryBackoff }),
	"LOCK_WAIT":             durationVar(func(c *Config) *time.Duration { return &c.LockWait }),
	"SMTP_SERVER":           stringVar(func(c *Config) *string { return &c.SMTPServer }),
	"SMTP_PORT":             intVar(func(c *Config) *int { return &c.SMTPPort }),
	"USE_TLS":               boolVar(func(c *Config) *bool { return &c.UseTLS }),
	"SMTP_TIMEOUT":          durationVar(func(c *Config) *time.Duration { return &c.SMTPTimeout }),
	"SMTP_SEND_RATE":        floatVar(func(c *Config) *float64 { return &c.SMTPSendRate }),
	"SENDER_EMAIL":          stringVar(func(c *Config) *string { return &c.SenderEmail }),
	"SENDER_PASSWORD":       stringVar(func(c *Config) *string { return &c.SenderPassword }),
	"RECIPIENTS":            listVar(func(c *Config) *[]string { return &c.Recipients }),
	"EMAIL_SUBJECT":         stringVar(func(c *Config) *string { return &c.EmailSubject }),
	"EMAIL_BODY":            stringVar(func(c *Config) *string { return &c.EmailBody }),
	"SEND_ERROR_LOGS":       boolVar(func(c *Config) *bool { return &c.SendErrorLogs }),
	"ERROR_LOG_LINES":       intVar(func(c *Config) *int { return &c.ErrorLogLines }),
	"NOTIFY_MAX_ATTEMPTS":   intVar(func(c *Config) *int { return &c.NotifyMaxAttempts }),
	"NOTIFY_RETRY_DELAY":    durationVar(func(c *Config) *time.Duration { return &c.NotifyRetryDelay }),
	"PUBLIC_IP_URL":         stringVar(func(c *Config) *string { return &c.PublicIPURL }),
	"PUBLIC_IP_TIMEOUT":     durationVar(func(c *Config) *time.Duration { return &c.PublicIPTimeout }),
	"LOG_LEVEL":             lowerVar(func(c *Config) *string { return &c.LogLevel }),
	"LOG_FORMAT":            lowerVar(func(c *Config) *string { return &c.LogFormat }),
	"LOG_DIR":               stringVar(func(c *Config) *string { return &c.LogDir }),
	"JOURNAL_PATH":          stringVar(func(c *Config) *string { return &c.JournalPath }),
	"METRICS_TEXTFILE":      stringVar(func(c *Config) *string { return &c.MetricsTextfile }),
	"ARCHIVE_S3_BUCKET":     stringVar(func(c *Config) *string { return &c.ArchiveBucket }),
	"ARCHIVE_S3_REGION":     stringVar(func(c *Config) *string { return &c.ArchiveRegion }),
	"ARCHIVE_S3_PREFIX":     stringVar(func(c *Config) *string { return &c.ArchivePrefix }),
}

// Load reads the configuration file at path, overlays matching environment
// variables and validates the result. A missing file yields the defaults.
// Env-style KEY=VALUE files are the default format; .yaml/.yml and .json
// files are recognised by extension.
func Load(path string) (Config, error) {
	cfg := Default()

	values, err := readValues(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		values = map[string]string{}
	case err != nil:
		return Config{}, err
	default:
		cfg.Source = path
	}

	for key := range fields {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}

	if err := apply(&cfg, values); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func apply(cfg *Config, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		set, ok := fields[key]
		if !ok {
			continue
		}
		if err := set(cfg, strings.TrimSpace(values[key])); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func readValues(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		env, err := godotenv.Unmarshal(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		values := make(map[string]string, len(env))
		for k, v := range env {
			values[normalizeKey(k)] = v
		}
		return values, nil
	}

	return flatten(raw)
}

func flatten(raw map[string]any) (map[string]string, error) {
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := scalar(v)
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
		values[normalizeKey(k)] = s
	}
	return values, nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, err := scalar(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

func normalizeKey(k string) string {
	key := strings.ToUpper(strings.TrimSpace(k))
	if alias, ok := aliases[key]; ok {
		return alias
	}
	return key
}

func stringVar(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func lowerVar(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = strings.ToLower(v)
		return nil
	}
}

func intVar(field func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func uintVar(field func(*Config) *uint64) setter {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("not a non-negative integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func floatVar(field func(*Config) *float64) setter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", v)
		}
		*field(c) = f
		return nil
	}
}

func boolVar(field func(*Config) *bool) setter {
	return func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*field(c) = true
		case "0", "false", "no", "off":
			*field(c) = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

// durationVar accepts Go duration syntax or a plain number of seconds
func durationVar(field func(*Config) *time.Duration) setter {
	return func(c *Config, v string) error {
		if v == "" {
			*field(c) = 0
			return nil
		}
		if secs, err := strconv.Atoi(v); err == nil {
			*field(c) = time.Duration(secs) * time.Second
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("not a duration: %q", v)
		}
		if d < 0 {
			return fmt.Errorf("negative duration: %q", v)
		}
		*field(c) = d
		return nil
	}
}

func listVar(field func(*Config) *[]string) setter {
	return func(c *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(c) = out
		return nil
	}
}

func fieldsVar(field func(*Config) *[]string) setter {
	return func(c *Config, v string) error {
		*field(c) = strings.Fields(v)
		return nil
	}
}

func dailyTimeVar(c *Config, v string) error {
	at, err := ParseClock(v)
	if err != nil {
		return err
	}
	c.DailyTime = v
	c.DailyAt = at
	return nil
}
