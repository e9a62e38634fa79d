// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/chatrelay/internal/model"
)

// sseHandler serves the given raw SSE lines as a streaming response.
func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func testRequest() model.ChatRequest {
	return model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "hi"}},
	}
}

func TestStream_FoldsDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"content":"Hel"}`,
		`{"content":"lo"}`,
		"[DONE]",
	))
	defer srv.Close()

	var updates []string
	consumer := NewConsumer(srv.URL)
	got, err := consumer.Stream(context.Background(), testRequest(), Handler{
		OnDelta: func(accumulated string) { updates = append(updates, accumulated) },
	})

	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "Hello" {
		t.Errorf("accumulated = %q, want %q", got, "Hello")
	}
	want := []string{"Hel", "Hello"}
	if len(updates) != len(want) {
		t.Fatalf("updates = %v, want %v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("update %d = %q, want %q", i, updates[i], want[i])
		}
	}
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"content":"good"}`,
		`{not json`,
		`{"content":" still good"}`,
		"[DONE]",
	))
	defer srv.Close()

	consumer := NewConsumer(srv.URL)
	got, err := consumer.Stream(context.Background(), testRequest(), Handler{})

	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "good still good" {
		t.Errorf("accumulated = %q, want %q", got, "good still good")
	}
}

func TestStream_InBandError(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"content":"partial"}`,
		`{"error":"Failed to generate response"}`,
		"[DONE]",
	))
	defer srv.Close()

	var errMsg string
	consumer := NewConsumer(srv.URL)
	got, err := consumer.Stream(context.Background(), testRequest(), Handler{
		OnError: func(message string) { errMsg = message },
	})

	if err == nil {
		t.Fatal("Stream() error = nil, want stream error")
	}
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("error type = %T, want *StreamError", err)
	}
	if streamErr.Partial != "partial" {
		t.Errorf("Partial = %q, want %q", streamErr.Partial, "partial")
	}
	if got != "partial" {
		t.Errorf("accumulated = %q, want %q", got, "partial")
	}
	if errMsg != "Failed to generate response" {
		t.Errorf("OnError message = %q, want %q", errMsg, "Failed to generate response")
	}
}

func TestStream_CleanCloseWithoutSentinel(t *testing.T) {
	// The connection closes cleanly without a [DONE] terminator; the
	// accumulated text still completes the stream.
	srv := httptest.NewServer(sseHandler(`{"content":"all of it"}`))
	defer srv.Close()

	consumer := NewConsumer(srv.URL)
	got, err := consumer.Stream(context.Background(), testRequest(), Handler{})

	if err != nil {
		t.Fatalf("Stream() error = %v, want nil on clean close", err)
	}
	if got != "all of it" {
		t.Errorf("accumulated = %q, want %q", got, "all of it")
	}
}

func TestStream_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"Invalid request","details":[{"field":"messages","message":"must not be empty"}]}`)
	}))
	defer srv.Close()

	consumer := NewConsumer(srv.URL)
	_, err := consumer.Stream(context.Background(), testRequest(), Handler{})

	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("error type = %T, want *RelayError", err)
	}
	if relayErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", relayErr.Status)
	}
	if len(relayErr.Details) != 1 || relayErr.Details[0].Field != "messages" {
		t.Errorf("Details = %v, want messages field detail", relayErr.Details)
	}
}

func TestStream_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"Internal server error","message":"no provider found for model: x/y"}`)
	}))
	defer srv.Close()

	consumer := NewConsumer(srv.URL)
	_, err := consumer.Stream(context.Background(), testRequest(), Handler{})

	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("error type = %T, want *RelayError", err)
	}
	if relayErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", relayErr.Status)
	}
	if relayErr.Message != "no provider found for model: x/y" {
		t.Errorf("Message = %q", relayErr.Message)
	}
}

func TestStream_EmptyContentFrameNoCallback(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"content":""}`,
		`{"content":"x"}`,
		"[DONE]",
	))
	defer srv.Close()

	calls := 0
	consumer := NewConsumer(srv.URL)
	got, err := consumer.Stream(context.Background(), testRequest(), Handler{
		OnDelta: func(string) { calls++ },
	})

	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "x" {
		t.Errorf("accumulated = %q, want %q", got, "x")
	}
	if calls != 1 {
		t.Errorf("OnDelta calls = %d, want 1", calls)
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %q, want /api/health", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","timestamp":"2025-01-01T00:00:00Z","models":{"together":true}}`)
	}))
	defer srv.Close()

	consumer := NewConsumer(srv.URL)
	health, err := consumer.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if !health.Models["together"] {
		t.Error("Models.together = false, want true")
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer("")
	if c.BaseURL() != DefaultRelayURL {
		t.Errorf("BaseURL() = %q, want default", c.BaseURL())
	}

	c = NewConsumer("http://example.com/")
	if c.BaseURL() != "http://example.com" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", c.BaseURL())
	}
}
