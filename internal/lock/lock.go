// Package lock keeps a single daemon per session.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// ErrNotHeld is returned by Read when no daemon holds the lock.
var ErrNotHeld = errors.New("session lock not held")

// Info is the content of a held lock file.
type Info struct {
	PID     int
	Session string
	Started time.Time
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
	info Info
}

// Acquire attempts to acquire an exclusive lock on the session directory.
// Returns LockHeldError if another process already holds it.
func Acquire(sessionDir, session string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, "LOCK")

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		info := parse(string(data))
		_ = f.Close()
		return nil, &LockHeldError{PID: info.PID, Path: lockPath}
	}

	info := Info{PID: os.Getpid(), Session: session, Started: time.Now().UTC().Truncate(time.Second)}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nsession=%s\ntime=%s\n", info.PID, info.Session, info.Started.Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath, info: info}, nil
}

// Info returns what was written to the lock file.
func (l *Lock) Info() Info {
	return l.info
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before close so a stale file is never left unlocked.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Read reports the daemon holding the session lock. It returns ErrNotHeld
// when the file is missing or not locked.
func Read(sessionDir string) (Info, error) {
	lockPath := filepath.Join(sessionDir, "LOCK")
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0600)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, ErrNotHeld
	}
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	// Taking the lock ourselves means nobody else had it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Info{}, ErrNotHeld
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Info{}, err
	}
	return parse(string(data)), nil
}

func parse(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "session":
			info.Session = value
		case "time":
			info.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}
