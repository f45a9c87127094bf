package server

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Evaluate: successful results
// ---------------------------------------------------------------------------

func TestEvaluate_Results(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		source string
		result string
		kind   string
	}{
		{"42", "42", "integer"},
		{"(+ 3 4)", "7", "integer"},
		{"(/ 1.0 4)", "0.25", "float"},
		{`"hello"`, "hello", "string"},
		{"'(a b)", "(a b)", "list"},
		{"true", "true", "boolean"},
		{"(define sq (lambda (x) (* x x)))", "sq", "symbol"},
		{"car", "#<native car>", "native"},
		{"(inc 1)", "2", "integer"},
	}

	for _, tt := range tests {
		resp, err := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": tt.source}))
		if err != nil {
			t.Fatalf("Evaluate(%q) returned error: %v", tt.source, err)
		}
		msg := resp.Msg
		if !field(msg, "success").GetBoolValue() {
			t.Errorf("Evaluate(%q) failed: %s", tt.source, field(msg, "error").GetStringValue())
			continue
		}
		if got := field(msg, "result").GetStringValue(); got != tt.result {
			t.Errorf("Evaluate(%q) result = %q, want %q", tt.source, got, tt.result)
		}
		if got := field(msg, "kind").GetStringValue(); got != tt.kind {
			t.Errorf("Evaluate(%q) kind = %q, want %q", tt.source, got, tt.kind)
		}
	}
}

func TestEvaluate_KeepsDefinitions(t *testing.T) {
	env := newTestEnv(t)
	env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "(define (sq x) (* x x))"}))
	resp, err := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "(sq 9)"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "81" {
		t.Errorf("result = %q, want 81", got)
	}
}

func TestEvaluate_CapturesOutput(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.Eval.Evaluate(bg(), structReq(t, map[string]any{
		"source": `(display "hi") (newline) (print 42) 'done`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := field(resp.Msg, "output").GetStringValue(); got != "hi\n42\n" {
		t.Errorf("output = %q, want %q", got, "hi\n42\n")
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "done" {
		t.Errorf("result = %q, want done", got)
	}
}

// ---------------------------------------------------------------------------
// Evaluate: errors
// ---------------------------------------------------------------------------

func TestEvaluate_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		source     string
		kind       string
		incomplete bool
	}{
		{"(foo)", "runtime.unbound_symbol", false},
		{"(1 2)", "runtime.not_callable", false},
		{"(/ 1 0)", "runtime.divide_by_zero", false},
		{"(+ 1", "end_of_input", true},
		{`"abc`, "parse", false},
		{")", "parse", false},
		{"(if)", "compile", false},
	}

	for _, tt := range tests {
		resp, err := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": tt.source}))
		if err != nil {
			t.Fatalf("Evaluate(%q) returned error: %v", tt.source, err)
		}
		msg := resp.Msg
		if field(msg, "success").GetBoolValue() {
			t.Errorf("Evaluate(%q) succeeded, want failure", tt.source)
			continue
		}
		if got := field(msg, "kind").GetStringValue(); got != tt.kind {
			t.Errorf("Evaluate(%q) kind = %q, want %q", tt.source, got, tt.kind)
		}
		if got := field(msg, "incomplete").GetBoolValue(); got != tt.incomplete {
			t.Errorf("Evaluate(%q) incomplete = %v, want %v", tt.source, got, tt.incomplete)
		}
		if field(msg, "error").GetStringValue() == "" {
			t.Errorf("Evaluate(%q) has no error message", tt.source)
		}
	}
}

func TestEvaluate_ErrorLine(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "1\n2\n(undefined)"}))
	if got := field(resp.Msg, "line").GetNumberValue(); got != 3 {
		t.Errorf("line = %v, want 3", got)
	}
}

func TestEvaluate_EmptySource(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Eval.Evaluate(bg(), structReq(t, map[string]any{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want invalid argument", connect.CodeOf(err))
	}
}

func TestEvaluate_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "1", "session": "nope"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want not found", connect.CodeOf(err))
	}
}

func TestEvaluate_OutputRestored(t *testing.T) {
	env := newTestEnv(t)
	var before any
	env.Worker.Do(func(v *vm.VM) any {
		before = v.Interpreter().Out
		return nil
	})
	env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": `(display "x")`}))
	env.Worker.Do(func(v *vm.VM) any {
		if v.Interpreter().Out != before {
			t.Error("Evaluate left its capture buffer installed")
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessions_Isolated(t *testing.T) {
	env := newTestEnv(t)

	create := func(name string) string {
		resp, err := env.Eval.CreateSession(bg(), structReq(t, map[string]any{"name": name}))
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		return field(resp.Msg, "session").GetStringValue()
	}
	a, b := create("a"), create("b")
	if a == "" || a == b {
		t.Fatalf("session ids = %q, %q, want two distinct ids", a, b)
	}

	env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "(define x 1)", "session": a}))
	env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "(define x 2)", "session": b}))

	for id, want := range map[string]string{a: "1", b: "2"} {
		resp, _ := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "x", "session": id}))
		if got := field(resp.Msg, "result").GetStringValue(); got != want {
			t.Errorf("x in session %s = %q, want %q", id, got, want)
		}
	}

	// The default VM sees neither definition.
	resp, _ := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "x"}))
	if field(resp.Msg, "success").GetBoolValue() {
		t.Error("x is visible outside the sessions")
	}

	list, err := env.Eval.ListSessions(bg(), structReq(t, map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(field(list.Msg, "sessions").GetListValue().GetValues()); n != 2 {
		t.Errorf("ListSessions = %d sessions, want 2", n)
	}
}

func TestSessions_Destroy(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.Eval.CreateSession(bg(), structReq(t, map[string]any{}))
	id := field(resp.Msg, "session").GetStringValue()

	out, err := env.Eval.DestroySession(bg(), structReq(t, map[string]any{"session": id}))
	if err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if !field(out.Msg, "destroyed").GetBoolValue() {
		t.Error("destroyed = false")
	}

	_, err = env.Eval.DestroySession(bg(), structReq(t, map[string]any{"session": id}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("second destroy code = %v, want not found", connect.CodeOf(err))
	}
	_, err = env.Eval.DestroySession(bg(), structReq(t, map[string]any{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("destroy without id code = %v, want invalid argument", connect.CodeOf(err))
	}
}

func TestSessions_Limit(t *testing.T) {
	store := NewSessionStore(testFactory, 2)
	for i := 0; i < 2; i++ {
		if _, err := store.Create(""); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if _, err := store.Create(""); err == nil {
		t.Error("Create beyond the limit succeeded")
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}
}

func TestSessions_ConcurrentCreateRespectsLimit(t *testing.T) {
	const limit, callers = 3, 20
	release := make(chan struct{})
	slow := func() (*vm.VM, error) {
		<-release
		return testFactory()
	}
	store := NewSessionStore(slow, limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(""); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	close(release)
	wg.Wait()

	if created != limit {
		t.Errorf("created %d sessions, want %d", created, limit)
	}
	if store.Len() != limit {
		t.Errorf("Len = %d, want %d", store.Len(), limit)
	}
}

func TestSessions_FactoryError(t *testing.T) {
	store := NewSessionStore(func() (*vm.VM, error) { return nil, errors.New("boom") }, 1)
	if _, err := store.Create(""); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Create err = %v, want factory error", err)
	}
	// The failed attempt does not hold on to the only slot.
	store.factory = testFactory
	if _, err := store.Create(""); err != nil {
		t.Errorf("Create after a factory error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestVMWorker_RecoversPanic(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Worker.Do(func(v *vm.VM) any { panic("kaboom") })
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("err = %v, want recovered panic", err)
	}
	// The worker keeps serving.
	r, err := env.Worker.Do(func(v *vm.VM) any { return 7 })
	if err != nil || r.(int) != 7 {
		t.Errorf("Do after panic = %v, %v", r, err)
	}
}

func TestVMWorker_Serializes(t *testing.T) {
	env := newTestEnv(t)
	env.Worker.Do(func(v *vm.VM) any {
		_, err := v.EvalString("(define counter 0)")
		return err
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "(set! counter (+ counter 1))"}))
		}()
	}
	wg.Wait()

	resp, _ := env.Eval.Evaluate(bg(), structReq(t, map[string]any{"source": "counter"}))
	if got := field(resp.Msg, "result").GetStringValue(); got != "50" {
		t.Errorf("counter = %q, want 50", got)
	}
}

func TestVMWorker_Stopped(t *testing.T) {
	v, _ := testFactory()
	w := NewVMWorker(v)
	w.Stop()
	if _, err := w.Do(func(v *vm.VM) any { return nil }); err == nil {
		t.Error("Do on a stopped worker succeeded")
	}
	// LSP shutdown followed by exit stops the worker twice.
	w.Stop()
}

// ---------------------------------------------------------------------------
// Over HTTP
// ---------------------------------------------------------------------------

func TestServer_ConnectRoundTrip(t *testing.T) {
	srv, err := New(testFactory)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	evaluate := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+EvaluateProcedure)
	createSession := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+CreateSessionProcedure)

	resp, err := evaluate.CallUnary(bg(), structReq(t, map[string]any{"source": "(map inc '(1 2 3))"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "(2 3 4)" {
		t.Errorf("result = %q, want (2 3 4)", got)
	}

	sess, err := createSession.CallUnary(bg(), structReq(t, map[string]any{"name": "remote"}))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := field(sess.Msg, "session").GetStringValue()
	if _, ok := srv.Sessions().Get(id); !ok {
		t.Errorf("session %q not in store", id)
	}

	_, err = evaluate.CallUnary(bg(), structReq(t, map[string]any{"source": ""}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("empty source code = %v, want invalid argument", connect.CodeOf(err))
	}
}

func TestServer_ConnectJSON(t *testing.T) {
	srv, err := New(testFactory)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := connect.NewClient[structpb.Struct, structpb.Struct](
		ts.Client(), ts.URL+EvaluateProcedure, connect.WithProtoJSON(),
	)
	resp, err := client.CallUnary(bg(), structReq(t, map[string]any{"source": `(string-append "a" "b")`}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "ab" {
		t.Errorf("result = %q, want ab", got)
	}
}

func TestServer_ReadLimit(t *testing.T) {
	srv, err := New(testFactory, WithHandlerOptions(connect.WithReadMaxBytes(256)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+EvaluateProcedure)
	big := "(list " + strings.Repeat("1 ", 500) + ")"
	_, err = client.CallUnary(bg(), structReq(t, map[string]any{"source": big}))
	if connect.CodeOf(err) != connect.CodeResourceExhausted {
		t.Errorf("oversized request: code = %v (%v), want %v", connect.CodeOf(err), err, connect.CodeResourceExhausted)
	}

	resp, err := client.CallUnary(bg(), structReq(t, map[string]any{"source": "(+ 1 2)"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "3" {
		t.Errorf("result = %q, want 3", got)
	}
}

func TestServer_FactoryError(t *testing.T) {
	_, err := New(func() (*vm.VM, error) { return nil, errors.New("no vm") })
	if err == nil {
		t.Error("New succeeded with a failing factory")
	}
}
