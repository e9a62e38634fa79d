// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"fmt"
	"strings"
)

// MaxMessageLength caps a single message's content on the relay wire.
const MaxMessageLength = 100000

// MaxRequestMessages caps the number of messages in one chat request.
const MaxRequestMessages = 200

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ValidationError represents a single request validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// =============================================================================
// CHAT REQUEST
// =============================================================================

// ChatMessage is a message as it appears on the relay wire. Only the role
// and content travel; ids and timestamps stay client-side.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat/stream.
// Temperature is a pointer so that an absent field can default to 0.7
// while an explicit 0 is preserved.
type ChatRequest struct {
	Messages     []ChatMessage `json:"messages"`
	Temperature  *float64      `json:"temperature,omitempty"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	Model        string        `json:"model,omitempty"`
}

// Validate checks the request and returns ValidateErrors on failure.
func (r *ChatRequest) Validate() error {
	var errs ValidateErrors

	if len(r.Messages) == 0 {
		errs = append(errs, ValidationError{
			Field:   "messages",
			Message: "at least one message is required",
		})
	}
	if len(r.Messages) > MaxRequestMessages {
		errs = append(errs, ValidationError{
			Field:   "messages",
			Message: fmt.Sprintf("too many messages (max %d)", MaxRequestMessages),
		})
	}

	for i, msg := range r.Messages {
		if !msg.Role.Valid() {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: fmt.Sprintf("invalid role %q (must be user or assistant)", msg.Role),
			})
		}
		if msg.Content == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: "content must not be empty",
			})
		}
		if len(msg.Content) > MaxMessageLength {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: fmt.Sprintf("content too long (max %d bytes)", MaxMessageLength),
			})
		}
	}

	if r.Temperature != nil {
		if *r.Temperature < MinTemperature || *r.Temperature > MaxTemperature {
			errs = append(errs, ValidationError{
				Field: "temperature",
				Message: fmt.Sprintf("must be between %.1f and %.1f",
					MinTemperature, MaxTemperature),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Normalize fills in defaults for absent fields. Call after Validate.
func (r *ChatRequest) Normalize() {
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
}
