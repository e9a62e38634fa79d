// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP relay with streaming chat endpoints.
//
// This package implements the relay between chat clients and upstream LLM
// providers. Requests are validated, routed by model id, and streamed back
// to the client as Server-Sent Events.
//
// # Endpoints
//
//   - POST /api/chat/stream - Stream a chat completion as SSE
//   - GET  /api/health      - Health check with provider availability
//
// # Wire Format
//
// Each upstream delta is re-emitted as a frame of the form
//
//	data: {"content":"..."}
//
// and every stream terminates with
//
//	data: [DONE]
//
// A failure after streaming has begun is reported in-band as a single
//
//	data: {"error":"Failed to generate response"}
//
// frame followed by the terminator; the HTTP status stays 200 because the
// headers are already committed.
//
// # Middleware
//
//   - Panic recovery with stack trace logging
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//   - Request logging with timing information
//   - CORS headers for browser clients
//
// # Usage
//
//	registry := provider.NewRegistry()
//	registry.Register(provider.NewTogether(apiKey), "meta-llama", "mistralai")
//	srv := server.NewServer("127.0.0.1:8787", registry)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
