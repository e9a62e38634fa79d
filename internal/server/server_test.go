// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP relay with streaming chat endpoints.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/provider"
)

// scriptedAdapter streams a fixed set of deltas, optionally failing.
type scriptedAdapter struct {
	name      string
	available bool
	deltas    []string
	failAfter int   // fail after this many deltas (-1 = never)
	failErr   error

	gotParams provider.ChatParams
}

func (f *scriptedAdapter) Name() string    { return f.name }
func (f *scriptedAdapter) Available() bool { return f.available }

func (f *scriptedAdapter) StreamChat(ctx context.Context, params provider.ChatParams, fn provider.DeltaFunc) error {
	f.gotParams = params
	for i, d := range f.deltas {
		if f.failAfter >= 0 && i == f.failAfter {
			return f.failErr
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	if f.failAfter >= 0 && f.failAfter >= len(f.deltas) {
		return f.failErr
	}
	return nil
}

func newTestServer(adapter *scriptedAdapter) *Server {
	registry := provider.NewRegistry()
	registry.Register(adapter, "meta-llama", "mistralai")
	return NewServer("127.0.0.1:0", registry)
}

func postChat(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// sseData extracts the data payloads from a recorded SSE body.
func sseData(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

// =============================================================================
// CHAT STREAM TESTS
// =============================================================================

func TestChatStream_RelaysDeltas(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "together", available: true,
		deltas: []string{"Hel", "lo"}, failAfter: -1,
	}
	srv := newTestServer(adapter)

	rec := postChat(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q, want no", got)
	}

	frames := sseData(rec.Body.String())
	want := []string{`{"content":"Hel"}`, `{"content":"lo"}`, "[DONE]"}
	if len(frames) != len(want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, frames[i], want[i])
		}
	}
}

func TestChatStream_DefaultsApplied(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "together", available: true,
		deltas: []string{"ok"}, failAfter: -1,
	}
	srv := newTestServer(adapter)

	rec := postChat(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if adapter.gotParams.Model != model.DefaultModel {
		t.Errorf("model = %q, want default", adapter.gotParams.Model)
	}
	if adapter.gotParams.Temperature != model.DefaultTemperature {
		t.Errorf("temperature = %v, want %v", adapter.gotParams.Temperature, model.DefaultTemperature)
	}
}

func TestChatStream_SystemPromptForwarded(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "together", available: true,
		deltas: []string{"ok"}, failAfter: -1,
	}
	srv := newTestServer(adapter)

	rec := postChat(t, srv.Handler(),
		`{"messages":[{"role":"user","content":"hi"}],"systemPrompt":"Be terse."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if adapter.gotParams.SystemPrompt != "Be terse." {
		t.Errorf("SystemPrompt = %q, want %q", adapter.gotParams.SystemPrompt, "Be terse.")
	}
}

func TestChatStream_ValidationFailure(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	rec := postChat(t, srv.Handler(), `{"messages":[]}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Error   string                  `json:"error"`
		Details []model.ValidationError `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if resp.Error != "Invalid request" {
		t.Errorf("error = %q, want %q", resp.Error, "Invalid request")
	}
	if len(resp.Details) == 0 {
		t.Error("details should not be empty")
	}
}

func TestChatStream_MalformedBody(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	rec := postChat(t, srv.Handler(), `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatStream_UnknownModel(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	rec := postChat(t, srv.Handler(),
		`{"messages":[{"role":"user","content":"hi"}],"model":"openai/gpt-4o"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if resp.Error != "Internal server error" {
		t.Errorf("error = %q, want %q", resp.Error, "Internal server error")
	}
	if !strings.Contains(resp.Message, "no provider found for model") {
		t.Errorf("message = %q, want no-provider text", resp.Message)
	}
}

func TestChatStream_UnavailableProvider(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: false, failAfter: -1})

	rec := postChat(t, srv.Handler(),
		`{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestChatStream_MidStreamErrorIsInBand(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "together", available: true,
		deltas:    []string{"partial"},
		failAfter: 1,
		failErr:   errors.New("upstream hiccup"),
	}
	srv := newTestServer(adapter)

	rec := postChat(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}]}`)

	// Headers were committed by the first delta, so the status stays 200.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	frames := sseData(rec.Body.String())
	want := []string{`{"content":"partial"}`, `{"error":"Failed to generate response"}`, "[DONE]"}
	if len(frames) != len(want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, frames[i], want[i])
		}
	}
}

func TestChatStream_PreStreamErrorIs500(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "together", available: true,
		failAfter: 0,
		failErr:   errors.New("together api error: 401 - bad key"),
	}
	srv := newTestServer(adapter)

	rec := postChat(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}]}`)

	// No delta was ever written, so a plain JSON error is still possible.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// =============================================================================
// HEALTH TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if !resp.Models["together"] {
		t.Error("models.together = false, want true")
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", resp.Timestamp, err)
	}
}

func TestHealth_UnconfiguredProvider(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: false, failAfter: -1})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if resp.Models["together"] {
		t.Error("models.together = true, want false")
	}
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the origin echoed", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "together", available: true, failAfter: -1})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	handler := Chain(RecoveryMiddleware())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
