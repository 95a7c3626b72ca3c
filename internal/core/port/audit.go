package port

import "context"

// AuditEntry represents a single estimation run.
type AuditEntry struct {
	RunID         string
	Source        string // "cli" or the MCP tool name
	Left          string
	Right         string
	Case          string
	EstimatedSize int64
	ActualSize    int64
	DurationMS    int64
	Err           error
}

// Auditor records estimation runs.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}
