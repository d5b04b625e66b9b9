// Package lock enforces single-instance execution with an exclusive,
// non-blocking OS file lock.
//
// The truth about whether an instance is running lives in the kernel's lock
// table, not in the lock file's content or existence: the kernel drops the
// lock the moment the holding process exits, however it exits, so a crashed
// holder can never wedge successors and there are no stale locks to clean
// up. The file itself persists across runs and carries the holder's PID as
// a diagnostic courtesy only. [Handle.Close] deliberately leaves the file in
// place: deleting it would race a concurrent acquirer that already has the
// path open.
package lock

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// ErrContended reports that another live process holds the lock.
var ErrContended = errors.New("lock held by another process")

// ExitContended is the process exit code reserved for losing the lock race,
// so supervisors can tell "duplicate instance" apart from real failures.
const ExitContended = 2

// ///////////////////////////////////////////////
// Handle
// ///////////////////////////////////////////////

// Handle is a held lock. It keeps the locked file descriptor open for the
// life of the lock; dropping the handle without Close still releases the
// lock at process exit.
type Handle struct {
	f    *os.File
	path string
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}

// Close releases the lock and closes the file. The lock file itself is left
// on disk; its existence carries no meaning. Close is idempotent.
func (h *Handle) Close() error {
	if h.f == nil {
		return nil
	}
	f := h.f
	h.f = nil
	if err := unlockFile(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ///////////////////////////////////////////////
// Acquisition
// ///////////////////////////////////////////////

// TryAcquire attempts to take the exclusive lock at path without blocking.
// On success it records the caller's PID in the file and returns a Handle;
// if another live process holds the lock it returns an error wrapping
// [ErrContended], annotated with the holder's PID when one can be read.
// Parent directories are created as needed.
func TryAcquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if !isContended(err) {
			return nil, err
		}
		if pid, rerr := ReadHolder(path); rerr == nil {
			return nil, fmt.Errorf("%w (pid %d): %s", ErrContended, pid, path)
		}
		return nil, fmt.Errorf("%w: %s", ErrContended, path)
	}
	if err := writeHolder(f); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, err
	}
	return &Handle{f: f, path: path}, nil
}

// AcquireOrExit takes the lock or terminates the process: exit code
// [ExitContended] when another instance holds it, exit code 1 for any other
// failure. The loser logs the holder and dies before touching any shared
// state.
func AcquireOrExit(path string) *Handle {
	h, err := TryAcquire(path)
	if err == nil {
		return h
	}
	if errors.Is(err, ErrContended) {
		if pid, rerr := ReadHolder(path); rerr == nil {
			slog.Warn("another instance is already running", "path", path, "holder_pid", pid)
		} else {
			slog.Warn("another instance is already running", "path", path)
		}
		os.Exit(ExitContended)
	}
	slog.Error("failed to acquire instance lock", "path", path, "error", err)
	os.Exit(1)
	return nil // unreachable
}

// ///////////////////////////////////////////////
// Holder Diagnostics
// ///////////////////////////////////////////////

// writeHolder replaces the file content with the calling process's PID.
// Purely advisory; the kernel lock is the source of truth.
func writeHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// ReadHolder reads the PID recorded in the lock file. The value is advisory:
// it identifies the last acquirer, which is the current holder only while
// the lock is actually held.
func ReadHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, fmt.Errorf("parse lock file %s: %w", path, err)
	}
	return pid, nil
}

// Probe reports whether a live process currently holds the lock at path,
// and that process's recorded PID when readable. It never disturbs a held
// lock and never creates or removes files; a missing file means no holder.
func Probe(path string) (held bool, pid int) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}
	defer f.Close()

	if lockErr := lockFile(f); lockErr != nil {
		if p, rerr := ReadHolder(path); rerr == nil {
			return true, p
		}
		return true, 0
	}
	_ = unlockFile(f)
	return false, 0
}
