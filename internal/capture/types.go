package capture

import (
	"fmt"
	"time"
)

// Outcome is the result class of one capture invocation
type Outcome string

const (
	Success Outcome = "success"
	Skipped Outcome = "skipped"
	Failure Outcome = "failure"
)

// Reason classifies a capture failure
type Reason string

const (
	InsufficientSpace Reason = "InsufficientSpace"
	FilesystemError   Reason = "FilesystemError"
	CaptureExhausted  Reason = "CaptureExhausted"
	AlreadyRunning    Reason = "AlreadyRunning"
)

// Request is one capture invocation. A zero Label means now.
type Request struct {
	Width     int
	Height    int
	Quality   int
	OutputDir string
	Force     bool
	Label     time.Time
}

// Result reports what a capture invocation did. On Success the photo at
// PhotoPath exists and is not empty.
type Result struct {
	Outcome    Outcome
	PhotoPath  string
	SizeBytes  int64
	Reason     Reason
	Attempts   int
	Err        error
	SkipReason string
	TakenAt    time.Time
}

// Message is a one-line human description, naming the reason on failure
func (r Result) Message() string {
	switch r.Outcome {
	case Success:
		return fmt.Sprintf("captured %s (%d bytes)", r.PhotoPath, r.SizeBytes)
	case Skipped:
		return "capture skipped: " + r.SkipReason
	}

	msg := string(r.Reason)
	if r.Reason == CaptureExhausted {
		msg += fmt.Sprintf(" after %d attempts", r.Attempts)
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}
