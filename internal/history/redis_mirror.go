// Package history write-through mirrors finalized agent task snapshots to
// Redis, the same optional-cache idiom the rest of this corpus uses: the
// dispatcher's in-process history stays authoritative, and this mirror is a
// best-effort secondary index other processes (e.g. a status API replica)
// can read without hitting the dispatcher that ran the task.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cyberdevstudio/internal/dispatch"
	"cyberdevstudio/internal/logging"
)

// ttl is how long a mirrored task snapshot survives in Redis before
// expiring; finished tasks are read shortly after completion or not at all.
const ttl = 24 * time.Hour

// RedisMirror implements dispatch.HistoryMirror by writing each finalized
// task to a Redis string keyed by task id.
type RedisMirror struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisMirror parses redisURL ("redis://[:password@]host:port/db") and
// pings it once so a misconfigured endpoint fails at startup rather than on
// the first task completion.
func NewRedisMirror(ctx context.Context, redisURL string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisMirror{client: client, log: logging.L().Named("history")}, nil
}

// MirrorTask is a no-op on a nil *RedisMirror, so callers can wire it
// unconditionally and let an unset REDIS_URL disable mirroring.
func (m *RedisMirror) MirrorTask(ctx context.Context, task dispatch.Task) {
	if m == nil {
		return
	}
	buf, err := json.Marshal(task)
	if err != nil {
		m.log.Warn("marshal task for mirror", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if err := m.client.Set(ctx, "task:"+task.ID, buf, ttl).Err(); err != nil {
		m.log.Warn("mirror task to redis", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Lookup reads back a previously mirrored task, e.g. for a read replica that
// has no in-process dispatcher of its own.
func (m *RedisMirror) Lookup(ctx context.Context, taskID string) (dispatch.Task, bool) {
	raw, err := m.client.Get(ctx, "task:"+taskID).Result()
	if err != nil {
		return dispatch.Task{}, false
	}
	var task dispatch.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		m.log.Warn("unmarshal mirrored task", zap.String("task_id", taskID), zap.Error(err))
		return dispatch.Task{}, false
	}
	return task, true
}

// Close releases the underlying connection pool.
func (m *RedisMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
