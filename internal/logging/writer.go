package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// rotatingWriter appends to one log file and, when it crosses the size
// threshold, shifts the history down a numbered cascade:
//
//	mnemd.log → mnemd.log.1 → mnemd.log.2 → … → mnemd.log.<maxKeep-1> → dropped
//
// Rotation happens inline on the write that crosses the line; a failed
// rotation degrades to appending past the threshold rather than losing the
// line being logged.
type rotatingWriter struct {
	mu      sync.Mutex
	path    string
	limit   int64
	maxKeep int
	file    *os.File
	size    int64
}

func newRotatingWriter(path string, limit int64, maxKeep int) (*rotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &rotatingWriter{path: path, limit: limit, maxKeep: maxKeep}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.limit && w.size > 0 {
		if err := w.shift(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// shift closes the live file and renames the cascade one slot down.
// Caller holds w.mu.
func (w *rotatingWriter) shift() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	// Oldest first: the last slot falls off, everything else moves down.
	for i := w.maxKeep - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.path, i)
		if i == w.maxKeep-1 {
			_ = os.Remove(from)
			continue
		}
		_ = os.Rename(from, fmt.Sprintf("%s.%d", w.path, i+1))
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	w.size = 0
	return w.open()
}

func (w *rotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
