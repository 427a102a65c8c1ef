package irmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	ferrors "irmd-go/errors"
)

// Lockfile enforces "one file, one live IRMd per host". On Acquire, a
// stale lockfile (one whose recorded pid is no longer alive) is reclaimed
// automatically; a live owner causes ErrLockHeld.
type Lockfile struct {
	path string
	lock *flock.Flock
}

// NewLockfile creates a Lockfile at path.
func NewLockfile(path string) *Lockfile {
	return &Lockfile{path: path, lock: flock.New(path)}
}

// Acquire takes the lock, purging a stale lockfile left by a dead IRMd
// first. It returns ErrLockHeld if another live IRMd holds it.
func (l *Lockfile) Acquire() error {
	if data, err := os.ReadFile(l.path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
			if !alive(pid) {
				os.Remove(l.path)
			}
		}
	}

	ok, err := l.lock.TryLock()
	if err != nil {
		return ferrors.Wrap(err, ferrors.EBUSY, "lockfile.Acquire")
	}
	if !ok {
		return ferrors.ErrLockHeld
	}

	if err := os.WriteFile(l.path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		l.lock.Unlock()
		return ferrors.Wrap(err, ferrors.EBUSY, "lockfile.Acquire")
	}
	return nil
}

// Release unlocks and removes the lockfile.
func (l *Lockfile) Release() error {
	defer os.Remove(l.path)
	return l.lock.Unlock()
}

// Stale reports whether the lockfile at path refers to a dead pid. The
// startup path only logs a warning when it does; no buffer pool is
// purged.
func Stale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	return !alive(pid)
}
