// Package api is the REST facade: event ingest, history queries, the
// context snapshot and the status surface.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"angeld/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Addr  string
	Token string
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	handler http.Handler

	srv      *http.Server
	addr     net.Addr
	stopDone chan struct{}
}

func NewServer(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		log:     log,
		cfg:     cfg,
		handler: NewHandler(deps, cfg.Token),
	}
}

// Start binds the listener and serves in the background. It is
// idempotent; a bind failure is returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.log.Info("api server listening", logx.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", logx.Err(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	if srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.mu.Unlock()

	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("api server shutdown", logx.Err(err))
		_ = srv.Close()
	}

	s.mu.Lock()
	s.srv = nil
	s.addr = nil
	s.stopDone = nil
	s.mu.Unlock()
	close(done)
}

// Addr reports the bound address, empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}
