package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cyberdevstudio/internal/logging"
	"cyberdevstudio/internal/sberrors"
)

// Config is the Dispatcher's immutable policy.
type Config struct {
	LLMEndpoint     string
	APIKey          string
	DefaultModel    string
	RequestTimeout  time.Duration
	HistoryCapacity int
	MaxContextBytes int
}

type activeEntry struct {
	mu     sync.Mutex
	task   Task
	cancel context.CancelFunc
}

// Dispatcher submits agent tasks, runs them against an LLM endpoint in the
// background, and tracks their lifecycle.
type Dispatcher struct {
	cfg     Config
	llm     *llmClient
	log     *zap.Logger
	history *history

	mu     sync.Mutex
	active map[string]*activeEntry

	mirror HistoryMirror
}

// HistoryMirror is an optional write-through sink for finalized task
// snapshots (e.g. a Redis-backed mirror); nil disables mirroring.
type HistoryMirror interface {
	MirrorTask(ctx context.Context, task Task)
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Dispatcher{
		cfg:     cfg,
		llm:     newLLMClient(cfg.LLMEndpoint, cfg.APIKey, cfg.RequestTimeout),
		log:     logging.L().Named("dispatch"),
		history: newHistory(cfg.HistoryCapacity),
		active:  make(map[string]*activeEntry),
	}
}

// SetHistoryMirror installs an optional write-through mirror.
func (d *Dispatcher) SetHistoryMirror(m HistoryMirror) { d.mirror = m }

// Dispatch validates req, seeds a Pending task, and schedules its
// background worker.
func (d *Dispatcher) Dispatch(req Request) (Submission, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return Submission{}, sberrors.InvalidOperation("objective must not be empty")
	}

	meta, ok := lookupMetadata(req.Kind)
	if !ok {
		return Submission{}, sberrors.AgentUnavailable(string(req.Kind))
	}

	size := contextSize(req.Context)
	if d.cfg.MaxContextBytes > 0 && size > d.cfg.MaxContextBytes {
		return Submission{}, sberrors.ContextTooLarge(size, d.cfg.MaxContextBytes)
	}

	params := meta.DefaultParameters
	if req.Parameters != nil {
		params = *req.Parameters
	}
	model := req.Model
	if model == "" {
		model = meta.DefaultModel
	}
	if model == "" {
		model = d.cfg.DefaultModel
	}

	id := uuid.NewString()
	task := Task{
		ID:         id,
		Kind:       req.Kind,
		Status:     StatusPending,
		Objective:  req.Objective,
		Model:      model,
		CreatedAt:  time.Now(),
		Metadata:   req.Metadata,
		Parameters: params,
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &activeEntry{task: task, cancel: cancel}

	d.mu.Lock()
	d.active[id] = entry
	d.mu.Unlock()

	go d.run(ctx, entry, meta, req.Context)

	return Submission{Task: task}, nil
}

func (d *Dispatcher) run(ctx context.Context, entry *activeEntry, meta Metadata, agentCtx Context) {
	entry.mu.Lock()
	entry.task.Status = StatusRunning
	started := time.Now()
	entry.task.StartedAt = &started
	objective := entry.task.Objective
	metadata := entry.task.Metadata
	model := entry.task.Model
	params := entry.task.Parameters
	entry.mu.Unlock()

	userPrompt := buildUserPrompt(objective, agentCtx, metadata)

	outcome, execErr := d.execute(ctx, meta.SystemPrompt, userPrompt, model, params)

	entry.mu.Lock()
	now := time.Now()
	switch {
	case entry.task.Status == StatusCancelled:
		if entry.task.FinishedAt == nil {
			entry.task.FinishedAt = &now
		}
	case execErr != nil:
		if se, ok := sberrors.As(execErr); ok && se.Kind == sberrors.KindCancelled {
			entry.task.Status = StatusCancelled
		} else {
			entry.task.Status = StatusFailed
			entry.task.Error = execErr.Error()
		}
		entry.task.FinishedAt = &now
	default:
		entry.task.Status = StatusCompleted
		entry.task.Outcome = &outcome
		entry.task.FinishedAt = &now
	}
	final := entry.task
	entry.mu.Unlock()

	d.mu.Lock()
	delete(d.active, final.ID)
	d.mu.Unlock()

	d.history.append(final)
	if d.mirror != nil {
		d.mirror.MirrorTask(context.Background(), final)
	}
}

// execute checks the cancel signal before and after the HTTP call, per the
// dispatcher's cooperative-cancellation contract.
func (d *Dispatcher) execute(ctx context.Context, systemPrompt, userPrompt, model string, params Parameters) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, sberrors.Cancelled()
	}
	outcome, err := d.llm.complete(ctx, systemPrompt, userPrompt, model, params)
	if ctx.Err() != nil {
		return Outcome{}, sberrors.Cancelled()
	}
	return outcome, err
}

// Cancel fires the cancel signal for id and forces its observable status to
// Cancelled if it was not already terminal.
func (d *Dispatcher) Cancel(id string) (Task, error) {
	d.mu.Lock()
	entry, ok := d.active[id]
	d.mu.Unlock()
	if !ok {
		return Task{}, sberrors.AgentTaskNotFound(id)
	}

	entry.cancel()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.task.Status.Terminal() {
		return entry.task, nil
	}
	now := time.Now()
	entry.task.Status = StatusCancelled
	entry.task.FinishedAt = &now
	return entry.task, nil
}

// Status looks up id in the active registry first, then history.
func (d *Dispatcher) Status(id string) (Task, bool) {
	d.mu.Lock()
	entry, ok := d.active[id]
	d.mu.Unlock()
	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.task, true
	}
	return d.history.find(id)
}

// History returns up to limit most-recent terminal snapshots, newest first.
// A limit of zero or less returns every retained snapshot.
func (d *Dispatcher) History(limit int) []Task {
	return d.history.recent(limit)
}

// ListAgents returns the full fixed agent metadata registry, ordered by kind.
func (d *Dispatcher) ListAgents() []Metadata {
	return registry()
}
