package server

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/parens/compiler"
	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// testFactory builds a VM with the compiler and prelude installed.
func testFactory() (*vm.VM, error) {
	v := vm.NewVM()
	v.UseCompiler(compiler.Compile)
	if err := v.LoadPrelude(); err != nil {
		return nil, err
	}
	return v, nil
}

// testEnv bundles a fresh VM with its worker and session store.
type testEnv struct {
	Worker   *VMWorker
	Sessions *SessionStore
	Eval     *EvalService
}

// newTestEnv creates a brand-new VM, worker and stores, stopped when the
// test ends.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	v, err := testFactory()
	if err != nil {
		t.Fatalf("testFactory: %v", err)
	}
	w := NewVMWorker(v)
	t.Cleanup(w.Stop)
	s := NewSessionStore(testFactory, 4)
	return &testEnv{Worker: w, Sessions: s, Eval: NewEvalService(w, s)}
}

// ---------------------------------------------------------------------------
// Request builders.
// ---------------------------------------------------------------------------

func structReq(t *testing.T, fields map[string]any) *connect.Request[structpb.Struct] {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

func field(msg *structpb.Struct, name string) *structpb.Value {
	return msg.GetFields()[name]
}
