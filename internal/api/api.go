// Package api provides HTTP handlers and the main API server logic for
// ClinicFlow.
//
// It exposes the session lifecycle endpoints (start session, send message),
// the prompt catalog admin endpoint, and a health probe. The API integrates
// with the flow orchestrator and the store modules.
package api

import (
	"log/slog"
	"net/http"

	"github.com/carebridge/clinicflow/internal/flow"
	"github.com/carebridge/clinicflow/internal/store"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address.
	Addr string
}

// Option configures server construction.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the HTTP surface to the orchestration core.
type Server struct {
	orchestrator *flow.Orchestrator
	st           store.Store
	addr         string
	mux          *http.ServeMux
}

// NewServer creates the API server over the orchestrator and store.
func NewServer(orchestrator *flow.Orchestrator, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		orchestrator: orchestrator,
		st:           st,
		addr:         cfg.Addr,
		mux:          http.NewServeMux(),
	}
	s.mux.HandleFunc("/sessions", s.startSessionHandler)
	s.mux.HandleFunc("/messages", s.sendMessageHandler)
	s.mux.HandleFunc("/scripts", s.upsertScriptHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	return s
}

// ServeHTTP implements http.Handler so the server can be mounted in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run starts the HTTP listener and blocks until it fails.
func (s *Server) Run() error {
	slog.Info("Server.Run: ClinicFlow API listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}
