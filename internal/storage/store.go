// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for chatrelay.
package storage

import (
	"github.com/jeranaias/chatrelay/internal/model"
)

// Record keys. Each record is persisted independently so that corruption
// of one never affects the others.
const (
	keySessions      = "sessions"
	keyActiveSession = "active_session"
	keySystemPrompt  = "system_prompt"
	keySettings      = "settings"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists the four chat records: the session list (most recent
// first), the active session id, the system prompt, and the generation
// settings.
//
// Read methods never fail: a missing or corrupt record degrades to its
// default value (empty list, empty id, default prompt, default settings)
// and the corruption is logged. Write methods report I/O errors.
type Store interface {
	// Sessions returns all sessions, most recently saved first.
	Sessions() []model.Session

	// Session returns the session with the given id, or nil.
	Session(id string) *model.Session

	// SaveSession persists a session. An existing id is replaced in place;
	// a new id is prepended so the list stays most-recent-first.
	SaveSession(sess *model.Session) error

	// DeleteSession removes a session. When it was the active session, the
	// active pointer falls back to the first remaining session or clears.
	// Deleting an unknown id is a no-op.
	DeleteSession(id string) error

	// ActiveSessionID returns the active session id, or "" when none.
	ActiveSessionID() string

	// SetActiveSessionID persists the active session pointer.
	SetActiveSessionID(id string) error

	// SystemPrompt returns the stored system prompt, or the default.
	SystemPrompt() string

	// SetSystemPrompt persists the system prompt.
	SetSystemPrompt(prompt string) error

	// Settings returns the stored generation settings, sanitized.
	Settings() model.GenerationSettings

	// SetSettings persists the generation settings.
	SetSettings(s model.GenerationSettings) error

	// Close releases backend resources.
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrSessionNotFound is returned when a session doesn't exist.
// Use errors.Is(err, ErrSessionNotFound) to check for this error.
var ErrSessionNotFound = &StoreError{Message: "session not found"}

// StoreError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
