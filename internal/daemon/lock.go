package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockInfo identifies the daemon holding the lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Hostname  string    `json:"hostname"`
}

// Lock guarantees a single daemon per state directory.
type Lock struct {
	path     string
	acquired bool
}

// NewLock creates a Lock for the given file.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire creates the lock file with O_EXCL. A lock left by a dead
// process is removed and acquisition retried once.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	err := l.create()
	if err == nil || !os.IsExist(err) {
		return err
	}

	info, readErr := l.Info()
	if readErr == nil && processAlive(info.PID) {
		return errLocked(info)
	}
	os.Remove(l.path)

	if err := l.create(); err != nil {
		if os.IsExist(err) {
			if info, _ := l.Info(); info != nil && processAlive(info.PID) {
				return errLocked(info)
			}
			return fmt.Errorf("lock file %s exists and could not be acquired", l.path)
		}
		return err
	}
	return nil
}

func errLocked(info *LockInfo) error {
	return fmt.Errorf("another daemon is running (PID: %d on %s, started: %s)",
		info.PID, info.Hostname, info.StartTime.Format(time.RFC3339))
}

func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	hostname, _ := os.Hostname()
	data, _ := json.MarshalIndent(LockInfo{PID: os.Getpid(), StartTime: time.Now(), Hostname: hostname}, "", "  ")
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	l.acquired = true
	return nil
}

// Release removes the lock file if this Lock created it.
func (l *Lock) Release() error {
	if !l.acquired {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.acquired = false
	return nil
}

// Info reads the current holder.
func (l *Lock) Info() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// IsStale reports whether the lock file names a process that is gone.
func (l *Lock) IsStale() bool {
	info, err := l.Info()
	if err != nil {
		return false
	}
	return !processAlive(info.PID)
}
