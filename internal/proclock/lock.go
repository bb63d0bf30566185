// Package proclock implements a filesystem mutex over a symlink whose target
// is the owning pid. Creating a symlink is atomic and fails when the link
// already exists, so it doubles as a portable compare-and-set; a lock whose
// recorded pid is no longer alive is considered stale and may be broken.
package proclock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNotOwner is returned by Release when the lock belongs to another pid.
var ErrNotOwner = errors.New("lock not owned by this process")

// Lock is a held filesystem lock.
type Lock struct {
	path string
	pid  int
}

// Pid returns the pid recorded when the lock was acquired.
func (l *Lock) Pid() int { return l.pid }

// Path returns the symlink backing the lock.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock at path without blocking. The boolean is false when
// another live process already holds it. Stale locks (dead owner, or a target
// that is not a pid) are broken and re-contested.
func Acquire(path string) (*Lock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	pid := os.Getpid()
	for {
		err := os.Symlink(strconv.Itoa(pid), path)
		if err == nil {
			return &Lock{path: path, pid: pid}, true, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, false, fmt.Errorf("failed to create lock: %w", err)
		}

		target, err := os.Readlink(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// The lock vanished between attempts; race for it again.
				continue
			}
			return nil, false, fmt.Errorf("failed to read lock: %w", err)
		}
		owner, convErr := strconv.Atoi(strings.TrimSpace(target))
		if convErr == nil {
			alive, err := process.PidExists(int32(owner))
			if err != nil {
				return nil, false, fmt.Errorf("failed to probe lock owner %d: %w", owner, err)
			}
			if alive {
				return nil, false, nil
			}
		}

		// Dead owner or garbage target: break the stale link. Losing the
		// removal race to a sibling just sends us around the loop again.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("failed to break stale lock: %w", err)
		}
	}
}

// Owner reads the pid recorded in the lock at path.
func Owner(path string) (int, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read lock: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(target))
	if err != nil {
		return 0, fmt.Errorf("lock %s has non-pid target %q", path, target)
	}
	return pid, nil
}

// Held reports whether a live process currently owns the lock at path, and
// which pid if so.
func Held(path string) (bool, int, error) {
	owner, err := Owner(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, err
	}
	alive, err := process.PidExists(int32(owner))
	if err != nil {
		return false, 0, fmt.Errorf("failed to probe lock owner %d: %w", owner, err)
	}
	if !alive {
		return false, 0, nil
	}
	return true, owner, nil
}

// Release removes the lock. Only the process that acquired it may release
// it; anything else gets ErrNotOwner.
func (l *Lock) Release() error {
	owner, err := Owner(l.path)
	if err != nil {
		return err
	}
	if owner != l.pid {
		return fmt.Errorf("%w: %s belongs to pid %d", ErrNotOwner, l.path, owner)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
