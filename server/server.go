// Package server exposes VMs over the network: a Connect evaluation service
// with per-session VMs, and a stdio language server.
package server

import (
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("parens.server")

// Server is the evaluation server. It serves Connect (HTTP/JSON and binary
// protobuf) on one port.
type Server struct {
	worker   *VMWorker
	sessions *SessionStore
	mux      *http.ServeMux
}

// MaxRequestBytes is the default limit on a decoded request message.
const MaxRequestBytes = 4 << 20

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxSessions    int
	handlerOptions []connect.HandlerOption
}

// WithMaxSessions bounds the number of live sessions. Zero means unbounded.
func WithMaxSessions(n int) Option {
	return func(c *serverConfig) { c.maxSessions = n }
}

// WithHandlerOptions passes options (interceptors, read limits) to every
// Connect handler.
func WithHandlerOptions(opts ...connect.HandlerOption) Option {
	return func(c *serverConfig) { c.handlerOptions = append(c.handlerOptions, opts...) }
}

// New creates a Server. factory builds the default VM immediately and one
// VM per session on demand.
func New(factory Factory, opts ...Option) (*Server, error) {
	cfg := &serverConfig{
		maxSessions:    64,
		handlerOptions: []connect.HandlerOption{connect.WithReadMaxBytes(MaxRequestBytes)},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	v, err := factory()
	if err != nil {
		return nil, fmt.Errorf("creating default VM: %w", err)
	}

	worker := NewVMWorker(v)
	sessions := NewSessionStore(factory, cfg.maxSessions)

	s := &Server{
		worker:   worker,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	evalSvc := NewEvalService(worker, sessions)
	for path, handler := range evalSvc.Handlers(cfg.handlerOptions...) {
		s.mux.Handle(path, handler)
	}

	return s, nil
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sessions returns the server's session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, EvaluateProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the server's VM worker.
func (s *Server) Stop() {
	s.worker.Stop()
}
