// Package runlog writes the append-only audit record of runs: one JSON line
// per stage transition, one file per run. Entries are never rewritten.
package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
)

// FileLog implements ports.RunLog over per-run JSONL files.
type FileLog struct {
	dir    string
	logger logging.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileLog creates the log directory if needed.
func NewFileLog(dir string, logger logging.Logger) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	return &FileLog{
		dir:    dir,
		logger: logging.OrNop(logger),
		files:  make(map[string]*os.File),
	}, nil
}

// Append writes one entry to the run's file. Failures are returned but the
// log stays usable for subsequent entries.
func (l *FileLog) Append(ctx context.Context, entry ports.RunLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.RunID == "" {
		return fmt.Errorf("run log entry missing run id")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode run log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := l.file(entry.RunID)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append run log entry: %w", err)
	}
	// The respond/end entry is the run's last. Release the handle eagerly so
	// a long-lived process does not accumulate one descriptor per run; a
	// straggler append simply reopens the file.
	if entry.Stage == "respond" && entry.Event == "end" {
		delete(l.files, entry.RunID)
		if err := file.Close(); err != nil {
			return fmt.Errorf("close run log for %s: %w", entry.RunID, err)
		}
	}
	return nil
}

// file returns the open append handle for a run, opening it on first use.
func (l *FileLog) file(runID string) (*os.File, error) {
	if file, ok := l.files[runID]; ok {
		return file, nil
	}
	path := filepath.Join(l.dir, sanitize(runID)+".jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	l.files[runID] = file
	return file, nil
}

// ReadRun loads every entry recorded for one run, in append order.
func (l *FileLog) ReadRun(runID string) ([]ports.RunLogEntry, error) {
	path := filepath.Join(l.dir, sanitize(runID)+".jsonl")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var entries []ports.RunLogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ports.RunLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode run log line: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run log %s: %w", path, err)
	}
	return entries, nil
}

// Close releases every open file handle.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for runID, file := range l.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close run log for %s: %w", runID, err)
		}
		delete(l.files, runID)
	}
	return firstErr
}

// sanitize keeps run ids filesystem-safe.
func sanitize(runID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, runID)
}

// Nop returns a RunLog that records nothing, for callers that run without
// audit persistence.
func Nop() ports.RunLog { return nopLog{} }

type nopLog struct{}

func (nopLog) Append(context.Context, ports.RunLogEntry) error { return nil }
func (nopLog) Close() error                                    { return nil }
