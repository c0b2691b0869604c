// Package lock implements advisory, file-based mutual exclusion keyed by
// session id. Extraction passes for one session can be started by several
// independent processes; the lock keeps them single-writer.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultStaleAfter is how old a lock file must be before it is presumed
// abandoned by a crashed holder.
const DefaultStaleAfter = 30 * time.Second

// ErrBusy is returned by Acquire when another holder owns a fresh lock.
var ErrBusy = errors.New("session lock busy")

// Locker creates and removes {sessionID}.lock files in a directory
type Locker struct {
	dir        string
	staleAfter time.Duration
	now        func() time.Time
}

// New returns a Locker storing lock files in dir. A non-positive
// staleAfter uses DefaultStaleAfter.
func New(dir string, staleAfter time.Duration) *Locker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Locker{dir: dir, staleAfter: staleAfter, now: time.Now}
}

// Path returns the lock file path for a session
func (l *Locker) Path(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".lock")
}

// Acquire takes the lock for sessionID, or returns ErrBusy when a lock
// younger than the staleness window exists. A stale lock is removed and
// creation retried once; losing that race is reported as ErrBusy.
func (l *Locker) Acquire(sessionID string) error {
	if sessionID == "" {
		return errors.New("acquire lock: empty session id")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("prepare lock directory: %w", err)
	}

	path := l.Path(sessionID)
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !l.isStale(path) {
			return ErrBusy
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return ErrBusy
}

// Release removes the lock file. A missing file is not an error.
func (l *Locker) Release(sessionID string) error {
	if err := os.Remove(l.Path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the session lock. The lock is released
// even when fn returns an error or panics.
func (l *Locker) WithLock(sessionID string, fn func() error) (err error) {
	if err := l.Acquire(sessionID); err != nil {
		return err
	}
	defer func() {
		if releaseErr := l.Release(sessionID); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return fn()
}

// HolderPID reads the pid recorded in a lock file, or 0 if unknown
func (l *Locker) HolderPID(sessionID string) int {
	raw, err := os.ReadFile(l.Path(sessionID))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return pid
}

func (l *Locker) create(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
	closeErr := file.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return errors.Join(writeErr, closeErr)
	}
	return nil
}

func (l *Locker) isStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Vanished between create and stat: let the retry take it
		return errors.Is(err, fs.ErrNotExist)
	}
	return l.now().Sub(info.ModTime()) > l.staleAfter
}
