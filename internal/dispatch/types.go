// Package dispatch runs agent tasks asynchronously against an LLM chat
// completion endpoint, tracking each task's lifecycle in an active
// registry plus an evicting history.
package dispatch

import "time"

// Kind is the closed set of agent specializations.
type Kind string

const (
	KindCode     Kind = "code"
	KindTest     Kind = "test"
	KindDesign   Kind = "design"
	KindDebug    Kind = "debug"
	KindSecurity Kind = "security"
	KindDoc      Kind = "doc"
)

// Metadata is the fixed record describing one agent kind.
type Metadata struct {
	Kind               Kind       `json:"kind"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Capabilities       []string   `json:"capabilities"`
	DefaultModel       string     `json:"default_model"`
	DefaultParameters  Parameters `json:"default_parameters"`
	SystemPrompt       string     `json:"-"`
}

// Parameters tunes an LLM sampling call.
type Parameters struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	TopP        float64 `json:"top_p"`
}

// DefaultParameters are applied when a request omits parameters entirely.
func DefaultParameters() Parameters {
	return Parameters{Temperature: 0.2, MaxTokens: 768, TopP: 0.9}
}

// ContextFile is one inline or base64-encoded attachment in an agent context.
type ContextFile struct {
	Path    string `json:"path,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Base64  bool   `json:"base64,omitempty"`
}

// Context is the notes and files an agent task is given to work from.
type Context struct {
	Notes []string      `json:"notes,omitempty"`
	Files []ContextFile `json:"files,omitempty"`
}

// Request is a dispatch submission.
type Request struct {
	Kind       Kind
	Objective  string
	Context    Context
	Model      string
	Parameters *Parameters
	Metadata   map[string]any
}

// Status is a task's lifecycle state. Terminal states never re-enter a
// non-terminal one.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ActionKind tags the variant of an outcome Action.
type ActionKind string

const (
	ActionMessage   ActionKind = "message"
	ActionFilePatch ActionKind = "file_patch"
	ActionFileWrite ActionKind = "file_write"
	ActionCommand   ActionKind = "command"
)

// FileContent is the payload of a file_write action.
type FileContent struct {
	Encoding string `json:"encoding"` // "utf-8" or "base64"
	Data     string `json:"data"`
}

// Action is a single tagged-variant side effect an agent outcome reports.
// The discriminator is "type", not "kind", to match the wire schema the
// agent is prompted to emit.
type Action struct {
	Kind ActionKind `json:"type"`

	// ActionMessage
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`

	// ActionFilePatch / ActionFileWrite
	Path  string       `json:"path,omitempty"`
	Patch string       `json:"patch,omitempty"`
	File  *FileContent `json:"content,omitempty"`

	// ActionCommand
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Outcome is the structured result of a completed agent execution.
type Outcome struct {
	Summary     string   `json:"summary"`
	Insights    []string `json:"insights,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
	RawResponse string   `json:"raw_response"`
}

// Task is a snapshot of one dispatched unit of work.
type Task struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status"`
	Objective  string         `json:"objective"`
	Model      string         `json:"model"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Outcome    *Outcome       `json:"outcome,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Parameters Parameters     `json:"parameters"`
}

// Submission is returned from a successful dispatch call.
type Submission struct {
	Task Task `json:"task"`
}
