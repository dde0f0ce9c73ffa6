// Package sessionlog appends observability records for channel lifecycle
// events (login, socket connect/replace/disconnect) to a JSONL file. These
// are not functional state: losing or truncating the file never changes
// gateway behavior.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log is an append-only JSONL writer, one file per channel instance.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open opens (creating if necessary) the session-event log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("sessionlog: create dir: %w", err)
	}
	return &Log{path: path}, nil
}

// Record is one append-only session-event entry.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Append writes eventType plus any structured fields as one JSON line.
func (l *Log) Append(eventType string, fields map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{Timestamp: time.Now().UTC(), EventType: eventType, Fields: fields}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("sessionlog: failed to marshal record", "error", err)
		return
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		slog.Error("sessionlog: failed to open log file", "path", l.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		slog.Error("sessionlog: failed to append record", "path", l.path, "error", err)
	}
}
