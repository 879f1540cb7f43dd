// Package unhandled persists the URLs no resolver or downloader could serve,
// one per line, for manual follow-up.
package unhandled

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log appends unhandled URLs to a UTF-8 text file. The file is truncated
// with a session-start header at the beginning of each run.
type Log struct {
	mu   sync.Mutex
	path string
}

// New creates a Log writing to the given path.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// StartSession truncates the file and writes the session timestamp header.
func (l *Log) StartSession(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create unhandled log dir: %w", err)
	}
	header := fmt.Sprintf("# session %s\n", now.UTC().Format(time.RFC3339))
	if err := os.WriteFile(l.path, []byte(header), 0o600); err != nil {
		return fmt.Errorf("truncate unhandled log: %w", err)
	}
	return nil
}

// Append writes one URL on its own line.
func (l *Log) Append(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open unhandled log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, url); err != nil {
		return fmt.Errorf("append unhandled url: %w", err)
	}
	return nil
}
