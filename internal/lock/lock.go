// Package lock provides the account-scoped sync lock.
//
// The lock is an OS file lock on a file in the lock directory. The OS
// releases it when the holding process exits, so a crashed sync never leaves
// a lock that blocks the next one. The file itself is left in place and only
// records the PID of the last holder.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrLocked is returned when another sync of the same account is running.
	ErrLocked = errors.New("sync already in progress")
	// ErrUnsupported is returned by Acquire on platforms without file locks.
	ErrUnsupported = errors.New("sync lock is not supported on this platform")
)

// Guard is a held lock. Release must be called on every exit path.
type Guard struct {
	file *os.File
	path string
}

// Path returns the lock file of account inside dir.
func Path(dir, account string) string {
	return filepath.Join(dir, fmt.Sprintf("mailsync-sync-%s.lock", sanitize(account)))
}

// Acquire takes the sync lock of account without blocking.
func Acquire(dir, account string) (*Guard, error) {
	path := Path(dir, account)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := tryLock(f); err != nil {
		holder := readHolder(f)
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("account %s (pid %s): %w", account, holder, ErrLocked)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Guard{file: f, path: path}, nil
}

// Release unlocks and closes the lock file. It is safe to call twice.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	defer func() { g.file = nil }()

	if err := unlock(g.file); err != nil {
		g.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", g.path, err)
	}
	return g.file.Close()
}

func readHolder(f *os.File) string {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	if pid := strings.TrimSpace(string(buf[:n])); pid != "" {
		return pid
	}
	return "unknown"
}

func sanitize(account string) string {
	return strings.Map(func(r rune) rune {
		if r == os.PathSeparator || r == '/' {
			return '_'
		}
		return r
	}, account)
}
