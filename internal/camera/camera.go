package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"watchpot/internal/config"
)

const maxStderr = 4096

// Shot describes one still image to take
type Shot struct {
	Path    string
	Width   int
	Height  int
	Quality int
}

// Source produces a still image at shot.Path
type Source interface {
	Capture(ctx context.Context, shot Shot) error
}

// CommandError is a failed camera tool run
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Command)
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, " with exit status %d", e.ExitCode)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Rpicam runs rpicam-still (or a compatible tool) once per capture
type Rpicam struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// FromConfig builds the camera source for cfg
func FromConfig(cfg config.Config) *Rpicam {
	return &Rpicam{
		Command: cfg.CameraCommand,
		Args:    cfg.CameraArgs,
		Timeout: cfg.CameraTimeout,
	}
}

// Arguments returns the full argument list for shot
func (r *Rpicam) Arguments(shot Shot) []string {
	args := []string{
		"-o", shot.Path,
		"--width", strconv.Itoa(shot.Width),
		"--height", strconv.Itoa(shot.Height),
		"--quality", strconv.Itoa(shot.Quality),
		"--immediate",
		"--nopreview",
	}
	return append(args, r.Args...)
}

// Capture runs the tool bounded by Timeout. The tool runs in its own process
// group, which is killed as a whole when the deadline passes.
func (r *Rpicam) Capture(ctx context.Context, shot Shot) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Arguments(shot)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	cerr := &CommandError{
		Command:  r.Command,
		ExitCode: -1,
		Stderr:   trimOutput(stderr.String()),
		Err:      err,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cerr.TimedOut = true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !cerr.TimedOut {
		cerr.ExitCode = exitErr.ExitCode()
	}
	return cerr
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	return s
}
