package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
)

// FileName is the lock file created inside the guarded directory
const FileName = ".watchpot.lock"

const pollInterval = 100 * time.Millisecond

// renameAside moves a stale lock out of the way
var renameAside = os.Rename

// ErrLocked is returned when another live process holds the lock
var ErrLocked = errors.New("lock held by another process")

// Lock is an exclusive, filesystem-visible advisory lock on a directory.
// It is acquired by creating the lock file with O_EXCL, so two processes
// can never both succeed.
type Lock struct {
	path  string
	token string
}

// Holder describes the process recorded in a lock file
type Holder struct {
	PID      int
	Token    string
	Acquired time.Time
}

// Acquire takes the lock on dir, polling for at most wait. It never queues:
// once wait has elapsed it returns ErrLocked. A lock left behind by a dead
// process is reclaimed.
func Acquire(ctx context.Context, dir string, wait time.Duration) (*Lock, error) {
	path := filepath.Join(dir, FileName)
	token := ulid.Make().String()
	deadline := time.Now().Add(wait)

	for {
		err := create(path, token)
		if err == nil {
			return &Lock{path: path, token: token}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		reclaimed, rerr := reclaimStale(path)
		if rerr != nil {
			return nil, rerr
		}
		if reclaimed {
			continue
		}

		if !time.Now().Before(deadline) {
			return nil, ErrLocked
		}

		t := time.NewTimer(pollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

// Path returns the lock file location
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file if it still belongs to this holder
func (l *Lock) Release() error {
	holder, err := ReadHolder(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if holder.Token != l.token {
		return fmt.Errorf("lock %s was taken over by pid %d", l.path, holder.PID)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ReadHolder parses the lock file at path
func ReadHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	return parseHolder(string(data)), nil
}

func create(path, token string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("%d\n%s\n%s\n", os.Getpid(), token, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write lock file: %w", err)
	}
	return f.Close()
}

func parseHolder(content string) Holder {
	var h Holder
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > 0 {
		h.PID, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	}
	if len(lines) > 1 {
		h.Token = strings.TrimSpace(lines[1])
	}
	if len(lines) > 2 {
		h.Acquired, _ = time.Parse(time.RFC3339, strings.TrimSpace(lines[2]))
	}
	return h
}

// reclaimStale removes a lock whose holder is gone. The file is first moved
// aside so that a lock created in between by a live process is put back
// instead of being deleted.
func reclaimStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read lock file: %w", err)
	}

	holder := parseHolder(string(data))
	// a lock with no pid yet is still being written
	if holder.PID == 0 || processAlive(holder.PID) {
		return false, nil
	}

	aside := fmt.Sprintf("%s.stale.%s", path, ulid.Make().String())
	if err := renameAside(path, aside); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to move stale lock: %w", err)
	}
	defer os.Remove(aside)

	moved, err := os.ReadFile(aside)
	if err == nil && string(moved) != string(data) {
		// another process re-locked between our read and rename
		if err := os.Link(aside, path); err != nil {
			if os.IsExist(err) {
				// a third process locked before the restore; the process
				// whose lock we moved no longer holds the file
				holder := parseHolder(string(moved))
				return false, fmt.Errorf("%w: lock of pid %d was replaced during stale reclaim", ErrLocked, holder.PID)
			}
			return false, fmt.Errorf("failed to restore lock file: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
