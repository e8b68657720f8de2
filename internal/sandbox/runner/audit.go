package runner

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"cyberdevstudio/internal/sberrors"
)

// AuditEntry is a single JSONL record of one Execute call.
type AuditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	Program     string    `json:"program"`
	Args        []string  `json:"args,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	ExitCode    int       `json:"exit_code,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// AuditLog appends AuditEntry records to a file as newline-delimited JSON.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLog opens (creating if needed) path for append-only audit writes.
func NewAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, sberrors.IO(err)
	}
	return &AuditLog{file: f}, nil
}

// Log writes entry as a single JSON line, best-effort.
func (a *AuditLog) Log(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.file.Write(data)
	a.file.WriteString("\n")
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
