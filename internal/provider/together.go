// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/sse"
)

// Configuration constants for the Together AI API.
const (
	// DefaultTogetherURL is the base URL for the Together AI API.
	DefaultTogetherURL = "https://api.together.xyz/v1"

	// TogetherName is the provider key used in routing and health output.
	TogetherName = "together"

	// DefaultMaxTokens caps completion length on every upstream request.
	DefaultMaxTokens = 2048

	// MaxErrorBodySize limits how much of an upstream error body is read.
	// SECURITY: Response size limit prevents memory exhaustion
	MaxErrorBodySize = 64 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared streaming client with no overall timeout; lifetime is
	// controlled by the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// TOGETHER ADAPTER
// =============================================================================

// Together is the adapter for the Together AI chat completions API.
type Together struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTogether creates a Together adapter with the given API key.
// An empty key produces an adapter that reports unavailable; StreamChat
// then fails with ErrNotConfigured.
func NewTogether(apiKey string) *Together {
	return &Together{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultTogetherURL,
		httpClient: sharedStreamingClient,
	}
}

// WithBaseURL overrides the API base URL. Used in tests.
func (t *Together) WithBaseURL(url string) *Together {
	t.baseURL = strings.TrimSuffix(url, "/")
	return t
}

// Name identifies the provider.
func (t *Together) Name() string {
	return TogetherName
}

// Available reports whether an API key is configured.
func (t *Together) Available() bool {
	return t.apiKey != ""
}

// togetherRequest is the body sent to the chat completions endpoint.
type togetherRequest struct {
	Model       string              `json:"model"`
	Messages    []model.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	Stream      bool                `json:"stream"`
	MaxTokens   int                 `json:"max_tokens"`
}

// togetherChunk is one streamed completion frame.
type togetherChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamChat performs a streaming completion against Together AI.
// A non-empty system prompt is prepended as a system role message.
// Upstream failures are returned as-is; there is no retry.
func (t *Together) StreamChat(ctx context.Context, params ChatParams, fn DeltaFunc) error {
	if !t.Available() {
		return ErrNotConfigured
	}

	messages := params.Messages
	if params.SystemPrompt != "" {
		messages = append([]model.ChatMessage{
			{Role: model.RoleSystem, Content: params.SystemPrompt},
		}, messages...)
	}

	reqBody := togetherRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: params.Temperature,
		Stream:      true,
		MaxTokens:   DefaultMaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := t.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return fmt.Errorf("together api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return t.processStream(ctx, resp.Body, fn)
}

// processStream reads the upstream SSE stream and forwards content deltas.
// Malformed frames are logged and skipped; they never abort the stream.
func (t *Together) processStream(ctx context.Context, body io.Reader, fn DeltaFunc) error {
	reader := sse.NewReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if sse.IsDone(data) {
			return nil
		}

		var chunk togetherChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			log.Printf("STREAM_PARSE_SKIP | provider=%s error=%v", TogetherName, err)
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		if err := fn(content); err != nil {
			return err
		}
	}
}
