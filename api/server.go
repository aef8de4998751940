// Package api provides a read-only REST API over the adapter's session,
// variables and identifier map.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hublink/config"
	"hublink/engine"
)

// Server is the REST API server.
type Server struct {
	engine  *engine.Engine
	config  *config.WebConfig
	server  *http.Server
	running bool
	mu      sync.RWMutex
}

// NewServer creates a REST API server over the engine.
func NewServer(eng *engine.Engine, cfg *config.WebConfig) *Server {
	return &Server{
		engine: eng,
		config: cfg,
	}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:    s.Address(),
		Handler: s.routes(),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop halts the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}
