// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/sse"
)

// STREAMING: Robust SSE consumption with partial-content preservation

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultRelayURL is the relay endpoint used when none is configured.
const DefaultRelayURL = "http://127.0.0.1:8787"

// MaxErrorBodySize caps how much of an error response body is read (64KB).
const MaxErrorBodySize = 64 * 1024

// sharedStreamingClient is used for all streaming requests. No client
// timeout: stream lifetime is bounded by the request context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// ERRORS
// =============================================================================

// StreamError represents a failure during streaming, preserving any
// partial content received before the error.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// RelayError represents a non-streaming error response from the relay.
type RelayError struct {
	Status  int
	Message string
	Details []model.ValidationError
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if len(e.Details) > 0 {
		parts := make([]string, len(e.Details))
		for i, d := range e.Details {
			parts[i] = fmt.Sprintf("%s: %s", d.Field, d.Message)
		}
		return fmt.Sprintf("relay error %d: %s", e.Status, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("relay error %d: %s", e.Status, e.Message)
}

// =============================================================================
// TYPES
// =============================================================================

// Handler receives streaming events. Both callbacks are optional.
type Handler struct {
	// OnDelta is called once per content frame with the full accumulated
	// text so far.
	OnDelta func(accumulated string)

	// OnError is called with the relay's in-band error message when the
	// stream fails after content has started flowing.
	OnError func(message string)
}

// streamFrame is one decoded SSE data payload from the relay. Content
// and error frames share the wire shape, distinguished by which field
// is set.
type streamFrame struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// relayErrorBody is the relay's JSON error envelope.
type relayErrorBody struct {
	Error   string                  `json:"error"`
	Message string                  `json:"message"`
	Details []model.ValidationError `json:"details"`
}

// Consumer streams chat completions from the relay.
type Consumer struct {
	baseURL    string
	httpClient *http.Client
}

// NewConsumer creates a consumer for the given relay base URL.
func NewConsumer(baseURL string) *Consumer {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	return &Consumer{
		baseURL:    baseURL,
		httpClient: sharedStreamingClient,
	}
}

// WithHTTPClient overrides the HTTP client. Returns the consumer for chaining.
func (c *Consumer) WithHTTPClient(client *http.Client) *Consumer {
	c.httpClient = client
	return c
}

// BaseURL returns the configured relay base URL.
func (c *Consumer) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream sends a chat request to the relay and consumes the SSE response.
// Returns the full accumulated assistant text. On failure the partial
// content received before the error is still returned, with the error
// wrapped in a StreamError.
func (c *Consumer) Stream(ctx context.Context, req model.ChatRequest, handler Handler) (string, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/chat/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.decodeError(resp)
	}

	return c.consumeStream(ctx, resp.Body, handler)
}

// consumeStream folds content frames into the accumulator, invoking the
// handler exactly once per content frame.
func (c *Consumer) consumeStream(ctx context.Context, body io.Reader, handler Handler) (string, error) {
	reader := sse.NewReader(body)
	var accumulated strings.Builder

	for {
		select {
		case <-ctx.Done():
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: ctx.Err()}
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				// A clean close without [DONE] still completes the
				// stream with whatever accumulated.
				return accumulated.String(), nil
			}
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: err}
		}

		if sse.IsDone(data) {
			return accumulated.String(), nil
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("STREAM_PARSE_SKIP | error=%v", err)
			continue
		}

		if frame.Error != "" {
			if handler.OnError != nil {
				handler.OnError(frame.Error)
			}
			return accumulated.String(), &StreamError{
				Partial: accumulated.String(),
				Err:     errors.New(frame.Error),
			}
		}

		if frame.Content == "" {
			continue
		}

		accumulated.WriteString(frame.Content)
		if handler.OnDelta != nil {
			handler.OnDelta(accumulated.String())
		}
	}
}

// decodeError converts a non-OK relay response into a RelayError.
func (c *Consumer) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))

	var envelope relayErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		message := envelope.Message
		if message == "" {
			message = envelope.Error
		}
		return &RelayError{
			Status:  resp.StatusCode,
			Message: message,
			Details: envelope.Details,
		}
	}

	return &RelayError{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(body)),
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health describes the relay's reported state.
type Health struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Models    map[string]bool `json:"models"`
}

// CheckHealth queries the relay health endpoint.
func (c *Consumer) CheckHealth(ctx context.Context) (*Health, error) {
	url := c.baseURL + "/api/health"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}
