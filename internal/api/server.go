// Package api implements a local-only HTTP listener accepting POST
// /download from collaborator processes (browser extensions, CLI helpers,
// a future GUI) and handing the request to the core via an Enqueuer. Built
// on chi (router, middleware.Recoverer), with a single intake route.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Enqueuer is the core-side seam the server calls into; satisfied by a
// thin adapter over internal/supervisor + internal/entry in the
// composition root (cmd/tachyond).
type Enqueuer interface {
	Enqueue(url string, headers map[string]string) (taskID string, err error)
}

// Server is the HTTP intake listener.
type Server struct {
	enqueuer Enqueuer
	logger   *slog.Logger
	router   *chi.Mux
}

// New builds a Server with its routes registered.
func New(enqueuer Enqueuer, logger *slog.Logger) *Server {
	s := &Server{enqueuer: enqueuer, logger: logger, router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Post("/download", s.handleDownload)
	return s
}

// ListenAndServe binds the loopback-only listener on port and serves until
// the process exits or the listener errs.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: binding %s: %w", addr, err)
	}
	if s.logger != nil {
		s.logger.Info("api: listening", "addr", addr)
	}
	return http.Serve(ln, s.router)
}

// downloadRequest carries Headers in "Key: Value\n" form rather than a
// nested JSON object.
type downloadRequest struct {
	URL     string `json:"url"`
	Headers string `json:"headers"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	id, err := s.enqueuer.Enqueue(req.URL, parseHeaders(req.Headers))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("api: enqueue failed", "url", req.URL, "error", err)
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"task_id": id})
}

// parseHeaders splits "Key: Value\n" form text into a map.
func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
