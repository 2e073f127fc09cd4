// Package server exposes the session engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/db"
	"github.com/devnet-ops/compliance-ai/internal/session"
)

// Config holds the server's own settings plus the identity fields reported
// on /info.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string

	LLMProvider string
	LLMModel    string
	Version     string
}

// Server serves the compliance assistant API.
type Server struct {
	config *Config

	engine  *session.Engine
	store   *session.Store
	history db.Store
	log     *zap.Logger

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer creates the server around an already-wired engine.
func NewServer(cfg *Config, engine *session.Engine, store *session.Store, history db.Store, log *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("session engine cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  cfg,
		engine:  engine,
		store:   store,
		history: history,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start starts the HTTP listener.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Streaming responses can run as long as a turn does; write timeout
		// is left to the per-turn timeout inside the engine.
		IdleTimeout: 120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown error", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/agent/prompt", s.handlePrompt)
	mux.HandleFunc("/agent/prompt/stream", s.handlePromptStream)
	mux.HandleFunc("/agent/session", s.handleSession)
	mux.HandleFunc("/agent/history", s.handleHistory)

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	ready := s.running
	s.mu.RUnlock()

	if ready && s.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			ready = false
		}
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":         "compliance-ai",
		"version":      s.config.Version,
		"llm_provider": s.config.LLMProvider,
		"llm_model":    s.config.LLMModel,
		"sessions":     s.store.Len(),
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}
