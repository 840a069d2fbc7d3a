//go:build unix

// Package lockfile wraps advisory file locking for single-instance daemon
// enforcement, consolidated from the teacher's internal/lockfile and
// internal/daemonrunner packages (which duplicated the same flock wrappers
// across two packages and an unused shared/wasm/windows surface this
// daemon — which only ever targets tmux/kitty/wezterm/zellij on
// POSIX — doesn't need).
package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when a non-blocking exclusive lock could not be
// acquired because another process already holds it.
var ErrLocked = errors.New("lockfile: already held by another process")

// IsLocked reports whether err is (or wraps) ErrLocked.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// FlockExclusiveNonBlocking attempts to acquire an exclusive lock on f
// without blocking, returning ErrLocked if another process holds it.
func FlockExclusiveNonBlocking(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return err
	}
	return nil
}

// FlockUnlock releases a lock previously acquired on f.
func FlockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
