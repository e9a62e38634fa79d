// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"github.com/google/uuid"

	"github.com/jeranaias/chatrelay/internal/util"
)

// DefaultTitle is the title given to a session before its first user message.
const DefaultTitle = "New Chat"

// TitleMaxRunes is the maximum length of an auto-derived session title.
const TitleMaxRunes = 50

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds a complete chat session with history and metadata.
// CreatedAt and UpdatedAt are epoch milliseconds.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// NewSession creates a new empty session with a generated ID.
func NewSession() *Session {
	now := NowMillis()
	return &Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TitleFromContent derives a session title from the first user message.
// The content is flattened to one line and capped at TitleMaxRunes runes.
func TitleFromContent(content string) string {
	title := util.CollapseWhitespace(content)
	if title == "" {
		return DefaultTitle
	}
	return util.TruncateRunesNoEllipsis(title, TitleMaxRunes)
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AppendMessage adds a message to the session and bumps UpdatedAt.
func (s *Session) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = NowMillis()
}

// IndexOf returns the index of the message with the given ID, or -1.
func (s *Session) IndexOf(messageID string) int {
	for i, m := range s.Messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// TruncateBefore keeps only the messages strictly before the given index.
func (s *Session) TruncateBefore(idx int) {
	if idx < 0 || idx > len(s.Messages) {
		return
	}
	s.Messages = s.Messages[:idx]
	s.UpdatedAt = NowMillis()
}

// RemoveMessage removes exactly the message with the given ID.
// Removing an unknown ID is a no-op; neighbors are never touched.
func (s *Session) RemoveMessage(messageID string) bool {
	idx := s.IndexOf(messageID)
	if idx < 0 {
		return false
	}
	s.Messages = append(s.Messages[:idx], s.Messages[idx+1:]...)
	s.UpdatedAt = NowMillis()
	return true
}

// LastUserMessageBefore returns the nearest user message strictly before
// the given index, or nil when none exists.
func (s *Session) LastUserMessageBefore(idx int) *Message {
	if idx > len(s.Messages) {
		idx = len(s.Messages)
	}
	for i := idx - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return &s.Messages[i]
		}
	}
	return nil
}

// IsEmpty returns true when the session has no messages.
func (s *Session) IsEmpty() bool {
	return len(s.Messages) == 0
}
