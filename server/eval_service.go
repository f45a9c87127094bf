package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/parens/vm"
)

// EvalServiceName is the fully-qualified name of the evaluation service.
const EvalServiceName = "parens.v1.EvalService"

// Procedure paths served by EvalService.
const (
	EvaluateProcedure       = "/" + EvalServiceName + "/Evaluate"
	CreateSessionProcedure  = "/" + EvalServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + EvalServiceName + "/DestroySession"
	ListSessionsProcedure   = "/" + EvalServiceName + "/ListSessions"
)

// EvalService implements the evaluation service as Connect handlers over
// structpb.Struct messages.
//
//	Evaluate        {source, session?} → {success, result, kind, output, error, incomplete, line}
//	CreateSession   {name?}            → {session}
//	DestroySession  {session}          → {destroyed}
//	ListSessions    {}                 → {sessions: [{session, name}]}
type EvalService struct {
	worker   *VMWorker
	sessions *SessionStore
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *VMWorker, sessions *SessionStore) *EvalService {
	return &EvalService{
		worker:   worker,
		sessions: sessions,
	}
}

// Handlers returns the HTTP handler for each procedure, keyed by path.
func (s *EvalService) Handlers(opts ...connect.HandlerOption) map[string]http.Handler {
	return map[string]http.Handler{
		EvaluateProcedure:       connect.NewUnaryHandler(EvaluateProcedure, s.Evaluate, opts...),
		CreateSessionProcedure:  connect.NewUnaryHandler(CreateSessionProcedure, s.CreateSession, opts...),
		DestroySessionProcedure: connect.NewUnaryHandler(DestroySessionProcedure, s.DestroySession, opts...),
		ListSessionsProcedure:   connect.NewUnaryHandler(ListSessionsProcedure, s.ListSessions, opts...),
	}
}

// Evaluate compiles and executes source, in a session when one is named and
// otherwise in the server's default VM.
func (s *EvalService) Evaluate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	target := s.worker.VM()
	if id := stringField(req.Msg, "session"); id != "" {
		session, ok := s.sessions.Get(id)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
		}
		target = session.VM
	}

	result, err := s.worker.DoIn(target, func(v *vm.VM) any {
		return evaluate(v, source)
	})
	if err != nil {
		return connect.NewResponse(EvalResult{Error: err.Error(), Kind: "internal"}.Struct()), nil
	}
	return connect.NewResponse(result.(EvalResult).Struct()), nil
}

// CreateSession starts a session with a fresh VM.
func (s *EvalService) CreateSession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	session, err := s.sessions.Create(stringField(req.Msg, "name"))
	if err != nil {
		return nil, connect.NewError(connect.CodeResourceExhausted, err)
	}
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"session": structpb.NewStringValue(session.ID),
	}}), nil
}

// DestroySession ends a session and drops its VM.
func (s *EvalService) DestroySession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"destroyed": structpb.NewBoolValue(true),
	}}), nil
}

// ListSessions reports the live sessions, oldest first.
func (s *EvalService) ListSessions(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var list []*structpb.Value
	for _, session := range s.sessions.List() {
		list = append(list, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"session": structpb.NewStringValue(session.ID),
			"name":    structpb.NewStringValue(session.Name),
		}}))
	}
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"sessions": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}), nil
}

// EvalResult is the outcome of one Evaluate call.
type EvalResult struct {
	Success    bool
	Result     string // printed value
	Kind       string // value kind on success, error kind on failure
	Output     string // text written by display/print
	Error      string
	Incomplete bool // the source ends inside a form
	Line       int
}

// Struct converts r to its wire message.
func (r EvalResult) Struct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"success":    structpb.NewBoolValue(r.Success),
		"result":     structpb.NewStringValue(r.Result),
		"kind":       structpb.NewStringValue(r.Kind),
		"output":     structpb.NewStringValue(r.Output),
		"error":      structpb.NewStringValue(r.Error),
		"incomplete": structpb.NewBoolValue(r.Incomplete),
	}
	if r.Line > 0 {
		fields["line"] = structpb.NewNumberValue(float64(r.Line))
	}
	return &structpb.Struct{Fields: fields}
}

// evaluate compiles and runs source, capturing anything it prints.
// Must be called on the VM worker goroutine.
func evaluate(v *vm.VM, source string) EvalResult {
	var out bytes.Buffer
	in := v.Interpreter()
	saved := in.Out
	in.Out = &out
	defer func() { in.Out = saved }()

	val, err := v.EvalString(source)
	if err != nil {
		return EvalResult{
			Kind:       vm.ErrorKind(err),
			Output:     out.String(),
			Error:      err.Error(),
			Incomplete: vm.IsEndOfInput(err),
			Line:       vm.ErrorLine(err),
		}
	}
	return EvalResult{
		Success: true,
		Result:  val.String(),
		Kind:    val.Kind().String(),
		Output:  out.String(),
	}
}

func stringField(msg *structpb.Struct, name string) string {
	if msg == nil {
		return ""
	}
	return msg.GetFields()[name].GetStringValue()
}
