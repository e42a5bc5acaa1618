package gpio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DefaultLockDir is where line lock files live when no directory is configured.
func DefaultLockDir() string {
	return filepath.Join(os.TempDir(), "blink")
}

// LockPath returns the lock file guarding a chip line.
func LockPath(dir, chip string, line int) string {
	if dir == "" {
		dir = DefaultLockDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.lock", filepath.Base(chip), line))
}

// lockLine takes an exclusive, non-blocking lock on the line so two
// blink processes never drive the same pin.
func lockLine(dir, chip string, line int) (*flock.Flock, error) {
	path := LockPath(dir, chip, line)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s line %d is held by another process (%s)", ErrBusy, chip, line, path)
	}

	return fileLock, nil
}
