package wasmrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"cyberdevstudio/internal/sberrors"
)

// addModule is the minimal wasm binary for:
//
//	(module
//	  (func (export "add") (param i32 i32) (result i32)
//	    local.get 0
//	    local.get 1
//	    i32.add))
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// divZeroModule is the minimal wasm binary for:
//
//	(module
//	  (func (export "divzero") (result i32)
//	    i32.const 1
//	    i32.const 0
//	    i32.div_s))
//
// Calling it traps with an integer-divide-by-zero at runtime.
var divZeroModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0b, 0x01, 0x07, 0x64, 0x69, 0x76, 0x7a, 0x65, 0x72, 0x6f, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x41, 0x01, 0x41, 0x00, 0x6d, 0x0b,
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := New(t.TempDir(), Defaults{Fuel: 1_000_000, MemoryLimit: 16, TableLimit: 64, CallTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestInvoke_InlineBytes(t *testing.T) {
	r := newTestRunner(t)
	out, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{Bytes: addModule},
		FunctionName: "add",
		Params:       []uint64{api.EncodeI32(2), api.EncodeI32(3)},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(out) != 1 || out[0].Kind != KindI32 || out[0].I32 != 5 {
		t.Fatalf("Invoke result = %+v, want [{i32 5}]", out)
	}
}

func TestInvoke_ByPath(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "add.wasm"), addModule, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	r, err := New(root, Defaults{Fuel: 1_000_000, MemoryLimit: 16, TableLimit: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{Path: "add.wasm"},
		FunctionName: "add",
		Params:       []uint64{api.EncodeI32(10), api.EncodeI32(20)},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out[0].I32 != 30 {
		t.Fatalf("I32 = %d, want 30", out[0].I32)
	}
}

func TestInvoke_TrapIsWasmTrapKind(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{Bytes: divZeroModule},
		FunctionName: "divzero",
	})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindWasmTrap {
		t.Fatalf("got %v, want WasmTrap for a runtime trap", err)
	}
}

func TestInvoke_MissingExport(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{Bytes: addModule},
		FunctionName: "subtract",
		Params:       []uint64{api.EncodeI32(1), api.EncodeI32(1)},
	})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindInvalidOperation {
		t.Fatalf("got %v, want InvalidOperation", err)
	}
}

func TestInvoke_RejectsZeroLimits(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{Bytes: addModule},
		FunctionName: "add",
		Params:       []uint64{api.EncodeI32(1), api.EncodeI32(1)},
		MemoryLimit:  0,
		TableLimit:   0,
		Fuel:         0,
	})
	if err != nil {
		t.Fatalf("zero per-call limits should fall back to defaults, got: %v", err)
	}
}

func TestInvoke_RejectsBothModuleSources(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{Path: "x.wasm", Bytes: addModule},
		FunctionName: "add",
	})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindInvalidOperation {
		t.Fatalf("got %v, want InvalidOperation for conflicting module source", err)
	}
}

func TestInvoke_RejectsEmptyBytes(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Invoke(context.Background(), Invocation{
		Module:       ModuleSource{},
		FunctionName: "add",
	})
	se, ok := sberrors.As(err)
	if !ok || se.Kind != sberrors.KindInvalidOperation {
		t.Fatalf("got %v, want InvalidOperation for empty module source", err)
	}
}

func TestNew_RejectsZeroDefaults(t *testing.T) {
	if _, err := New(t.TempDir(), Defaults{Fuel: 0, MemoryLimit: 16, TableLimit: 64}); err == nil {
		t.Fatal("expected error for zero fuel default")
	}
}
