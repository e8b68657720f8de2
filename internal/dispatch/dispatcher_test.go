package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cyberdevstudio/internal/sberrors"
)

func newFakeLLM(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return srv, srv.Close
}

func waitForTerminal(t *testing.T, d *Dispatcher, id string, timeout time.Duration) Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, ok := d.Status(id)
		if ok && task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", id, timeout)
	return Task{}
}

func TestDispatch_RejectsEmptyObjective(t *testing.T) {
	d := New(Config{})
	_, err := d.Dispatch(Request{Kind: KindCode, Objective: "  "})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindInvalidOperation {
		t.Fatalf("got %v, want InvalidOperation", err)
	}
}

func TestDispatch_RejectsUnknownKind(t *testing.T) {
	d := New(Config{})
	_, err := d.Dispatch(Request{Kind: Kind("unknown"), Objective: "do something"})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindAgentUnavailable {
		t.Fatalf("got %v, want AgentUnavailable", err)
	}
}

func TestDispatch_RejectsOversizedContext(t *testing.T) {
	d := New(Config{MaxContextBytes: 4})
	_, err := d.Dispatch(Request{Kind: KindCode, Objective: "x", Context: Context{Notes: []string{"this note is too long"}}})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindContextTooLarge {
		t.Fatalf("got %v, want ContextTooLarge", err)
	}
}

func TestDispatch_SuccessReachesCompleted(t *testing.T) {
	srv, closeFn := newFakeLLM(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: `{"summary":"done","insights":["ok"]}`}}}
		json.NewEncoder(w).Encode(resp)
	})
	defer closeFn()

	d := New(Config{LLMEndpoint: srv.URL, RequestTimeout: 5 * time.Second})
	sub, err := d.Dispatch(Request{Kind: KindCode, Objective: "write a function"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sub.Task.Status != StatusPending {
		t.Fatalf("initial status = %s, want pending", sub.Task.Status)
	}

	final := waitForTerminal(t, d, sub.Task.ID, 2*time.Second)
	if final.Status != StatusCompleted {
		t.Fatalf("final status = %s, want completed", final.Status)
	}
	if final.Outcome == nil || final.Outcome.Summary != "done" {
		t.Fatalf("outcome = %+v, want summary 'done'", final.Outcome)
	}

	history := d.History(10)
	if len(history) != 1 || history[0].ID != sub.Task.ID {
		t.Fatalf("history = %+v, want one entry for %s", history, sub.Task.ID)
	}
}

func TestDispatch_NonJSONContentFallsBackToPlaintextSummary(t *testing.T) {
	srv, closeFn := newFakeLLM(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: "  just plain text  "}}}
		json.NewEncoder(w).Encode(resp)
	})
	defer closeFn()

	d := New(Config{LLMEndpoint: srv.URL, RequestTimeout: 5 * time.Second})
	sub, err := d.Dispatch(Request{Kind: KindDoc, Objective: "summarize"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	final := waitForTerminal(t, d, sub.Task.ID, 2*time.Second)
	if final.Outcome == nil || final.Outcome.Summary != "just plain text" {
		t.Fatalf("outcome = %+v, want trimmed plaintext summary", final.Outcome)
	}
}

func TestDispatch_NonOKStatusMarksFailed(t *testing.T) {
	srv, closeFn := newFakeLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	defer closeFn()

	d := New(Config{LLMEndpoint: srv.URL, RequestTimeout: 5 * time.Second})
	sub, err := d.Dispatch(Request{Kind: KindCode, Objective: "x"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	final := waitForTerminal(t, d, sub.Task.ID, 2*time.Second)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestCancel_BeforeCompletionForcesCancelledStatus(t *testing.T) {
	block := make(chan struct{})
	srv, closeFn := newFakeLLM(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: `{"summary":"too late"}`}}}
		json.NewEncoder(w).Encode(resp)
	})
	defer closeFn()

	d := New(Config{LLMEndpoint: srv.URL, RequestTimeout: 5 * time.Second})
	sub, err := d.Dispatch(Request{Kind: KindCode, Objective: "long running task"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// give the worker a moment to reach Running before cancelling
	time.Sleep(20 * time.Millisecond)

	cancelled, err := d.Cancel(sub.Task.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("Cancel result status = %s, want cancelled", cancelled.Status)
	}

	close(block)

	final := waitForTerminal(t, d, sub.Task.ID, 2*time.Second)
	if final.Status != StatusCancelled {
		t.Fatalf("final status = %s, want cancelled even after the worker observed completion", final.Status)
	}
}

func TestCancel_UnknownTask(t *testing.T) {
	d := New(Config{})
	_, err := d.Cancel("nonexistent")
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindAgentTaskNotFound {
		t.Fatalf("got %v, want AgentTaskNotFound", err)
	}
}

func TestListAgents_ReturnsAllKindsOrdered(t *testing.T) {
	d := New(Config{})
	agents := d.ListAgents()
	if len(agents) != 6 {
		t.Fatalf("got %d agents, want 6", len(agents))
	}
	if agents[0].Kind != KindCode {
		t.Fatalf("agents[0].Kind = %s, want code", agents[0].Kind)
	}
}

func TestHistory_EvictsOldestOverCapacity(t *testing.T) {
	h := newHistory(2)
	h.append(Task{ID: "a"})
	h.append(Task{ID: "b"})
	h.append(Task{ID: "c"})
	recent := h.recent(10)
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("recent = %+v, want [c, b]", recent)
	}
	if _, ok := h.find("a"); ok {
		t.Fatal("expected 'a' to have been evicted")
	}
}
