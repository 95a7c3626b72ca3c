package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/joinest/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of an estimation run.
type fileEntry struct {
	Timestamp     string  `json:"ts"`
	RunID         string  `json:"run_id"`
	Source        string  `json:"source,omitempty"`
	Left          string  `json:"left"`
	Right         string  `json:"right"`
	Case          string  `json:"case"`
	EstimatedSize int64   `json:"estimated_size"`
	ActualSize    *int64  `json:"actual_size"`
	DurationMS    int64   `json:"duration_ms"`
	Error         *string `json:"error"`
}

func newFileEntry(now time.Time, entry port.AuditEntry) fileEntry {
	fe := fileEntry{
		Timestamp:     now.UTC().Format(time.RFC3339),
		RunID:         entry.RunID,
		Source:        entry.Source,
		Left:          entry.Left,
		Right:         entry.Right,
		Case:          entry.Case,
		EstimatedSize: entry.EstimatedSize,
		DurationMS:    entry.DurationMS,
	}
	// A negative actual size means the join was not executed.
	if entry.ActualSize >= 0 {
		actual := entry.ActualSize
		fe.ActualSize = &actual
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}
	return fe
}

// FileAuditor writes estimation runs as NDJSON (one JSON object per line) to a file.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	now  func() time.Time
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &FileAuditor{
		file: f,
		enc:  json.NewEncoder(f),
		now:  time.Now,
	}, nil
}

func (a *FileAuditor) Record(_ context.Context, entry port.AuditEntry) {
	fe := newFileEntry(a.now(), entry)

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; an audit write never fails an estimate
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// NoopAuditor discards all entries.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, port.AuditEntry) {}
func (NoopAuditor) Close() error                            { return nil }
