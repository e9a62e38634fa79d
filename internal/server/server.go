// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP relay with streaming chat endpoints.
//
// Endpoints:
//   - POST /api/chat/stream - Stream a chat completion as SSE
//   - GET  /api/health      - Health check with provider availability
//
// The relay validates requests, routes them to an upstream provider, and
// re-emits upstream deltas as "data: {\"content\":...}" SSE frames. Every
// stream ends with "data: [DONE]". A failure after the stream has started
// is reported in-band as a single "data: {\"error\":...}" frame; the HTTP
// status stays 200 because the headers are already committed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/provider"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the relay server.
	DefaultPort = 8787

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the server version.
	Version = "0.1.0"
)

// streamErrorMessage is the generic in-band error sent to clients when an
// upstream stream fails. Full details stay in the server log.
const streamErrorMessage = "Failed to generate response"

// ============================================================================
// WIRE TYPES
// ============================================================================

// contentEvent is a single streamed content frame.
type contentEvent struct {
	Content string `json:"content"`
}

// errorEvent is the in-band error frame sent after headers are committed.
type errorEvent struct {
	Error string `json:"error"`
}

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Models    map[string]bool `json:"models"`
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the streaming chat relay.
type Server struct {
	addr     string
	router   *http.ServeMux
	server   *http.Server
	registry *provider.Registry
	cors     *CORSConfig
	logger   *log.Logger
}

// NewServer creates a relay bound to addr, routing via registry.
// If addr is empty, 127.0.0.1:8787 is used.
func NewServer(addr string, registry *provider.Registry) *Server {
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", DefaultPort)
	}

	s := &Server{
		addr:     addr,
		router:   http.NewServeMux(),
		registry: registry,
		cors:     DefaultCORSConfig(),
		logger:   log.Default(),
	}

	s.setupRoutes()
	return s
}

// WithCORS overrides the CORS configuration.
func (s *Server) WithCORS(config *CORSConfig) *Server {
	s.cors = config
	return s
}

// WithLogger overrides the request logger.
func (s *Server) WithLogger(logger *log.Logger) *Server {
	s.logger = logger
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	s.router.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the full handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.cors),
	)(s.router)
}

// Start runs the server. Blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: streams are long-lived and context-controlled.
		IdleTimeout: 120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s providers=%v", s.addr, Version, s.registry.Names())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// CHAT STREAM HANDLER
// ============================================================================

// handleChatStream handles POST /api/chat/stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeServerErrorStatus(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		log.Printf("REQUEST_DECODE_FAILED | error=%v", err)
		s.writeInvalidRequest(w, model.ValidateErrors{
			{Field: "body", Message: "malformed JSON"},
		})
		return
	}

	if err := req.Validate(); err != nil {
		log.Printf("REQUEST_INVALID | error=%v", err)
		var details model.ValidateErrors
		if !errors.As(err, &details) {
			details = model.ValidateErrors{{Field: "request", Message: err.Error()}}
		}
		s.writeInvalidRequest(w, details)
		return
	}
	req.Normalize()

	// Routing happens before any bytes are written, so a missing or
	// unconfigured provider is still a plain 500 JSON response.
	adapter, err := s.registry.ForModel(req.Model)
	if err != nil {
		log.Printf("ROUTE_FAILED | model=%s error=%v", req.Model, err)
		s.writeServerError(w, err.Error())
		return
	}

	s.streamCompletion(w, r, adapter, req)
}

// streamCompletion relays the upstream stream to the client as SSE.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, adapter provider.Adapter, req model.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeServerError(w, "streaming not supported")
		return
	}

	// SSE headers are staged but not committed until the first write, so
	// an upstream failure before any delta can still become a 500.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	params := provider.ChatParams{
		Model:        req.Model,
		Messages:     req.Messages,
		Temperature:  *req.Temperature,
		SystemPrompt: req.SystemPrompt,
	}

	// Client disconnect cancels the upstream request.
	ctx := r.Context()

	wroteAny := false
	err := adapter.StreamChat(ctx, params, func(delta string) error {
		wroteAny = true
		return s.sendEvent(w, flusher, contentEvent{Content: delta})
	})

	if err != nil {
		log.Printf("STREAM_ERROR | provider=%s model=%s error=%v", adapter.Name(), req.Model, err)
		if !wroteAny {
			// Nothing committed yet: drop the staged SSE headers and
			// answer with a regular JSON error.
			w.Header().Del("Cache-Control")
			w.Header().Del("X-Accel-Buffering")
			s.writeServerError(w, streamErrorMessage)
			return
		}
		// Headers committed: report in-band, then terminate normally.
		s.sendEvent(w, flusher, errorEvent{Error: streamErrorMessage})
	}

	fmt.Fprintf(w, "data: %s\n\n", "[DONE]")
	flusher.Flush()
}

// sendEvent writes a single SSE data frame and flushes it.
func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Models:    s.registry.Availability(),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeInvalidRequest writes the 400 response with validation details.
func (s *Server) writeInvalidRequest(w http.ResponseWriter, details model.ValidateErrors) {
	s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   "Invalid request",
		"details": details,
	})
}

// writeServerError writes the 500 response.
func (s *Server) writeServerError(w http.ResponseWriter, message string) {
	s.writeServerErrorStatus(w, http.StatusInternalServerError, message)
}

// writeServerErrorStatus writes an error response with a specific status.
func (s *Server) writeServerErrorStatus(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   "Internal server error",
		"message": message,
	})
}
