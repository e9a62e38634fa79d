// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for chatrelay.
package storage

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/model"
)

// =============================================================================
// SESSION EXPORT
// =============================================================================

// ExportMarkdown renders a session as a Markdown transcript.
// Includes the title, creation time, and all messages with role labels.
func ExportMarkdown(sess *model.Session) string {
	var sb strings.Builder
	sb.WriteString("# " + sess.Title + "\n\n")
	sb.WriteString("Created: " + time.UnixMilli(sess.CreatedAt).Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range sess.Messages {
		role := "**" + msg.Role.DisplayName() + "**"
		sb.WriteString(role + " (" + msg.Time().Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders a session as pretty-printed JSON.
func ExportJSON(sess *model.Session) ([]byte, error) {
	return json.MarshalIndent(sess, "", "  ")
}
