package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	lockDirName   = ".geosync.lock"
	lockOwnerFile = "owner.json"
)

// ErrLocked is returned when another process owns the source directory.
var ErrLocked = errors.New("source directory is locked")

// Lock guarantees a single ledger writer per source directory. It is a directory
// created with mkdir, which is atomic on every filesystem geosync targets.
type Lock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireLock takes the source directory lock or fails immediately if a live process
// holds it. A lock left behind by a dead process on this host is reclaimed once.
func AcquireLock(sourceDir string) (Lock, error) {
	target := strings.TrimSpace(sourceDir)
	if target == "" {
		return Lock{}, fmt.Errorf("source directory is required")
	}
	dir := filepath.Join(target, lockDirName)

	err := os.Mkdir(dir, 0o755)
	if errors.Is(err, os.ErrExist) {
		owner, ok := readOwner(dir)
		if !ok || !owner.stale() {
			return Lock{}, lockedError(target, dir, owner, ok)
		}
		slog.Warn("reclaiming stale source lock",
			"dir", dir, "pid", owner.PID, "created_at", owner.CreatedAt)
		if rmErr := removeLockDir(dir); rmErr != nil {
			return Lock{}, fmt.Errorf("remove stale lock %s: %w", dir, rmErr)
		}
		err = os.Mkdir(dir, 0o755)
		if errors.Is(err, os.ErrExist) {
			// another process won the race after the stale lock was removed
			owner, ok = readOwner(dir)
			return Lock{}, lockedError(target, dir, owner, ok)
		}
	}
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock for %s: %w", target, err)
	}

	self := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := writeJSON(filepath.Join(dir, lockOwnerFile), self); err != nil {
		_ = os.Remove(dir)
		return Lock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return Lock{dir: dir}, nil
}

// Release removes the lock. Releasing a zero Lock is a no-op.
func (l Lock) Release() error {
	if l.dir == "" {
		return nil
	}
	if err := removeLockDir(l.dir); err != nil {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	return nil
}

func readOwner(dir string) (lockOwner, bool) {
	var owner lockOwner
	if err := readJSON(filepath.Join(dir, lockOwnerFile), &owner); err != nil || owner.PID <= 0 {
		return lockOwner{}, false
	}
	return owner, true
}

// stale reports whether the owner ran on this host and its process has exited.
// Owners on other hosts are never considered stale.
func (o lockOwner) stale() bool {
	if o.Hostname == "" || o.Hostname != hostnameOrUnknown() {
		return false
	}
	return !processAlive(o.PID)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}

func lockedError(target, dir string, owner lockOwner, known bool) error {
	if !known {
		return fmt.Errorf("%w: %s", ErrLocked, target)
	}
	return fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s); remove %s if that process is gone",
		ErrLocked, target, owner.PID, owner.CreatedAt, owner.Hostname, dir)
}

func removeLockDir(dir string) error {
	_ = os.Remove(filepath.Join(dir, lockOwnerFile))
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
