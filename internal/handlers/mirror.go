package handlers

import (
	"context"

	"cyberdevstudio/internal/artifacts"
	"cyberdevstudio/internal/dispatch"
	"cyberdevstudio/internal/history"
)

// CombinedMirror fans one finalized task out to both optional sinks: Redis
// for the task snapshot itself, S3 for any file_write/file_patch actions in
// its outcome. Either half may be nil; dispatch.Dispatcher only ever sees
// the single HistoryMirror interface this satisfies.
type CombinedMirror struct {
	Redis     *history.RedisMirror
	Artifacts *artifacts.Mirror
}

func (m *CombinedMirror) MirrorTask(ctx context.Context, task dispatch.Task) {
	m.Redis.MirrorTask(ctx, task)
	if task.Outcome == nil {
		return
	}
	m.Artifacts.MirrorOutcome(ctx, projectIDOf(task), task.ID, *task.Outcome)
}

// projectIDOf reads the "project_id" tag a caller may have set on an agent
// dispatch request's Metadata; absent it, artifact mirroring falls back to
// the task id as its own bucket prefix.
func projectIDOf(task dispatch.Task) string {
	if v, ok := task.Metadata["project_id"].(string); ok && v != "" {
		return v
	}
	return task.ID
}
