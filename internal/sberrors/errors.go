// Package sberrors defines the unified error taxonomy shared by every
// sandbox component (path resolver, filesystem, process runner, wasm
// runner, micro-VM runner, agent dispatcher). The transport layer maps
// Kind to a stable numeric JSON-RPC code; nothing in this package knows
// about JSON-RPC.
package sberrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a closed taxonomy of sandbox failure classes.
type Kind string

const (
	KindInvalidOperation  Kind = "invalid_operation"
	KindPathTraversal     Kind = "path_traversal"
	KindOutsideRoot       Kind = "outside_root"
	KindFileTooLarge      Kind = "file_too_large"
	KindTimeout           Kind = "timeout"
	KindOutputTooLarge    Kind = "output_too_large"
	KindTerminatedBySignal Kind = "terminated_by_signal"
	KindWasmTrap          Kind = "wasm_trap"
	KindMicroImageMissing Kind = "micro_image_not_configured"
	KindMicroVmNotFound   Kind = "micro_vm_not_found"
	KindAgentUnavailable  Kind = "agent_unavailable"
	KindAgentTaskNotFound Kind = "agent_task_not_found"
	KindContextTooLarge   Kind = "context_too_large"
	KindAgentFailed       Kind = "agent_failed"
	KindNetwork           Kind = "network"
	KindCancelled         Kind = "cancelled"
	KindIO                Kind = "io"
)

// Error is the single error type returned by every sandbox component.
// Data carries structured detail (path, limit, stream, duration) for
// callers that need to render a diagnosis beyond Message.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, msg string, data map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Data: data}
}

// As reports whether err is (or wraps) an *Error and returns it, unwrapping
// the same way errors.As does; convenience for callers that only need Kind.
func As(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}

func InvalidOperation(msg string) *Error {
	return newErr(KindInvalidOperation, msg, nil)
}

func PathTraversal(path string) *Error {
	return newErr(KindPathTraversal, fmt.Sprintf("path %q contains a parent-directory segment", path),
		map[string]any{"path": path})
}

func OutsideRoot(path string) *Error {
	return newErr(KindOutsideRoot, fmt.Sprintf("path %q escapes the workspace root", path),
		map[string]any{"path": path})
}

func FileTooLarge(size, limit int64) *Error {
	return newErr(KindFileTooLarge, fmt.Sprintf("file size %d exceeds limit %d", size, limit),
		map[string]any{"size": size, "limit": limit})
}

func Timeout(d time.Duration) *Error {
	return newErr(KindTimeout, fmt.Sprintf("operation timed out after %s", d),
		map[string]any{"duration": d})
}

func OutputTooLarge(stream string, limit int64) *Error {
	return newErr(KindOutputTooLarge, fmt.Sprintf("%s exceeded the %d byte cap", stream, limit),
		map[string]any{"stream": stream, "limit": limit})
}

func TerminatedBySignal() *Error {
	return newErr(KindTerminatedBySignal, "process terminated by signal", nil)
}

func WasmTrap(msg string) *Error {
	return newErr(KindWasmTrap, msg, nil)
}

func MicroImageNotConfigured(name string) *Error {
	return newErr(KindMicroImageMissing, fmt.Sprintf("micro image %q is not configured", name),
		map[string]any{"name": name})
}

func MicroVmNotFound(id string) *Error {
	return newErr(KindMicroVmNotFound, fmt.Sprintf("micro-vm instance %q not found", id),
		map[string]any{"id": id})
}

func AgentUnavailable(kind string) *Error {
	return newErr(KindAgentUnavailable, fmt.Sprintf("agent kind %q is not registered", kind),
		map[string]any{"kind": kind})
}

func AgentTaskNotFound(id string) *Error {
	return newErr(KindAgentTaskNotFound, fmt.Sprintf("agent task %q not found", id),
		map[string]any{"id": id})
}

func ContextTooLarge(provided, limit int) *Error {
	return newErr(KindContextTooLarge, fmt.Sprintf("agent context %d bytes exceeds limit %d", provided, limit),
		map[string]any{"provided": provided, "limit": limit})
}

func AgentFailed(msg string) *Error {
	return newErr(KindAgentFailed, msg, nil)
}

func Network(msg string) *Error {
	return newErr(KindNetwork, msg, nil)
}

func Cancelled() *Error {
	return newErr(KindCancelled, "task was cancelled", nil)
}

func IO(cause error) *Error {
	e := newErr(KindIO, cause.Error(), nil)
	e.cause = cause
	return e
}

// RPCCode maps a Kind to the JSON-RPC error code the transport layer
// returns to external consumers, per the sandbox-specific range -32001..-32044.
func (k Kind) RPCCode() int {
	switch k {
	case KindInvalidOperation:
		return -32001
	case KindPathTraversal:
		return -32002
	case KindOutsideRoot:
		return -32003
	case KindFileTooLarge:
		return -32010
	case KindTimeout:
		return -32020
	case KindOutputTooLarge:
		return -32021
	case KindTerminatedBySignal:
		return -32022
	case KindWasmTrap:
		return -32030
	case KindMicroImageMissing:
		return -32031
	case KindMicroVmNotFound:
		return -32032
	case KindAgentUnavailable:
		return -32040
	case KindAgentTaskNotFound:
		return -32041
	case KindContextTooLarge:
		return -32042
	case KindAgentFailed:
		return -32043
	case KindNetwork:
		return -32044
	case KindCancelled:
		return -32033
	default:
		return -32603 // Internal
	}
}
