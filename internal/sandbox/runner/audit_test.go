package runner

import (
	"context"
	"encoding/json"
	"os"
	"testing"
)

func TestExecute_AuditLogRecordsExecutionIDExitCodeAndError(t *testing.T) {
	logPath := t.TempDir() + "/audit.jsonl"
	r := newTestRunner(t, Config{})
	if err := r.EnableAuditLog(logPath); err != nil {
		t.Fatalf("EnableAuditLog: %v", err)
	}

	if _, err := r.Execute(context.Background(), Request{Program: "/bin/sh", Args: []string{"-c", "exit 3"}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := r.audit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var entry AuditEntry
	if err := json.Unmarshal(data[:len(data)-1], &entry); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if entry.ExecutionID == "" {
		t.Fatal("expected a non-empty execution id")
	}
	if entry.ExitCode != 3 {
		t.Fatalf("exit_code = %d, want 3", entry.ExitCode)
	}
	if entry.Error != "" {
		t.Fatalf("error = %q, want empty for a clean non-zero exit", entry.Error)
	}
}

func TestExecute_AuditLogSkipsRejectedProgram(t *testing.T) {
	logPath := t.TempDir() + "/audit.jsonl"
	r := newTestRunner(t, Config{})
	if err := r.EnableAuditLog(logPath); err != nil {
		t.Fatalf("EnableAuditLog: %v", err)
	}

	if _, err := r.Execute(context.Background(), Request{Program: "/bin/rm"}); err == nil {
		t.Fatal("expected disallowed program to fail")
	}
	// A rejected program never reaches the audit log: only attempted
	// executions are recorded, confirmed by an empty file.
	if err := r.audit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected no audit entry for a rejected program, got %q", data)
	}
}
