package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLockFile(t *testing.T, path string, pid int) {
	t.Helper()
	data, _ := json.Marshal(LockInfo{PID: pid, StartTime: time.Now().Add(-time.Hour), Hostname: "old-host"})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLockAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "daemon.lock")
	lock := NewLock(path)

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	info, err := lock.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.PID != os.Getpid() || info.Hostname == "" {
		t.Errorf("info = %+v", info)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
}

func TestLockHeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	first := NewLock(path)
	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	err := NewLock(path).Acquire()
	if err == nil || !strings.Contains(err.Error(), "another daemon is running") {
		t.Errorf("err = %v", err)
	}
}

func TestLockStaleIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	writeLockFile(t, path, 999999)

	lock := NewLock(path)
	if !lock.IsStale() {
		t.Error("lock with dead PID should be stale")
	}
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer lock.Release()
	if info, _ := lock.Info(); info == nil || info.PID != os.Getpid() {
		t.Errorf("info = %+v", info)
	}
}

func TestLockCorruptIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	os.WriteFile(path, []byte("not json"), 0644)

	lock := NewLock(path)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire over corrupt lock: %v", err)
	}
	lock.Release()
}

func TestLockReleaseWithoutAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	writeLockFile(t, path, os.Getpid())
	if err := NewLock(path).Release(); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("Release must not remove a lock it does not own")
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if processAlive(999999) {
		t.Error("PID 999999 should not be alive")
	}
}
