// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// This package defines the core domain types used throughout the application
// for representing sessions, messages, generation settings, and the relay
// request wire format.
//
// # Key Types
//
//   - Session: Container for a chat session with messages and metadata
//   - Message: Single message with id, role, content, and epoch-millis timestamp
//   - GenerationSettings: User-tunable temperature and model selection
//   - ChatRequest: Body of POST /api/chat/stream with validation
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
// Create a new session and add a message:
//
//	sess := model.NewSession()
//	sess.AppendMessage(model.NewUserMessage("Hello!"))
//
// Validate an incoming relay request:
//
//	if err := req.Validate(); err != nil {
//	    details := err.(model.ValidateErrors)
//	    // ...
//	}
package model
