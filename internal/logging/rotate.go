package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSize    = 10 * 1024 * 1024 // 10 MB
	defaultMaxBackups = 3
)

// RotatingFile is an io.Writer that rotates its backing file before a
// write would take it past maxSize, keeping up to maxBackups numbered copies
// (path.1, path.2, ...), oldest discarded.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewRotatingFile opens (creating if needed) the log file at path.
func NewRotatingFile(path string) (*RotatingFile, error) {
	rf := &RotatingFile{path: path, maxSize: defaultMaxSize, maxBackups: defaultMaxBackups}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rf.file = file
	rf.size = info.Size()
	return nil
}

// Write appends p, rotating first if doing so would exceed maxSize.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.size+int64(len(p)) > rf.maxSize && rf.size > 0 {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("closing log file before rotate: %w", err)
	}

	for i := rf.maxBackups; i >= 1; i-- {
		src := rf.backupPath(i)
		if i == rf.maxBackups {
			_ = os.Remove(src)
			continue
		}
		dst := rf.backupPath(i + 1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if err := os.Rename(rf.path, rf.backupPath(1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating log file: %w", err)
	}

	return rf.open()
}

func (rf *RotatingFile) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rf.path, n)
}

// Close closes the underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}
