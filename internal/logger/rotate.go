package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize is the maximum size of a single log file (10MB)
	DefaultMaxLogSize = 10 * 1024 * 1024

	// DefaultMaxLogFiles is the maximum number of log files to keep
	DefaultMaxLogFiles = 10
)

// RotatingFile is an io.WriteCloser that timestamps each write and starts
// a new file once the current one exceeds maxSize.
type RotatingFile struct {
	mu       sync.Mutex
	dir      string
	name     string
	maxSize  int64
	maxFiles int
	current  *os.File
	written  int64
	now      func() time.Time
}

// NewRotatingFile creates the log directory and opens the first file.
// Files are named <name>-<timestamp>.log.
func NewRotatingFile(dir, name string) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &RotatingFile{
		dir:      dir,
		name:     name,
		maxSize:  DefaultMaxLogSize,
		maxFiles: DefaultMaxLogFiles,
		now:      time.Now,
	}
	if err := r.createNewFile(); err != nil {
		return nil, err
	}
	r.cleanup()
	return r, nil
}

// Write implements io.Writer
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		if err := r.createNewFile(); err != nil {
			return 0, err
		}
	}

	timestamp := r.now().Format("2006-01-02 15:04:05")
	n, err := fmt.Fprintf(r.current, "[%s] %s", timestamp, p)
	if err != nil {
		return 0, err
	}
	r.written += int64(n)

	if r.written >= r.maxSize {
		if err := r.rotate(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close closes the current file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

// Path returns the current log file path.
func (r *RotatingFile) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.Name()
}

func (r *RotatingFile) rotate() error {
	if r.current != nil {
		if err := r.current.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		r.current = nil
	}
	r.cleanup()
	return r.createNewFile()
}

func (r *RotatingFile) createNewFile() error {
	filename := fmt.Sprintf("%s-%s.log", r.name, r.now().Format("20060102-150405.000"))
	file, err := os.OpenFile(filepath.Join(r.dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	r.current = file
	r.written = 0
	return nil
}

// cleanup removes the oldest files beyond maxFiles.
func (r *RotatingFile) cleanup() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".log" || !strings.HasPrefix(name, r.name+"-") {
			continue
		}
		logFiles = append(logFiles, filepath.Join(r.dir, name))
	}

	// Timestamped names sort chronologically.
	sort.Strings(logFiles)

	for len(logFiles) > r.maxFiles {
		_ = os.Remove(logFiles[0])
		logFiles = logFiles[1:]
	}
}
