// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controller orchestrates chat sessions over storage and the
// streaming client.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/chatrelay/internal/client"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSendInProgress indicates the session already has a send running.
	ErrSendInProgress = errors.New("send already in progress for session")

	// ErrMessageNotFound indicates the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

// =============================================================================
// EVENTS
// =============================================================================

// Events carries optional callbacks fired as chat state changes. All
// callbacks run on the calling goroutine, outside the controller lock.
type Events struct {
	// OnDraft fires once per streamed content frame with the full
	// accumulated assistant text so far.
	OnDraft func(sessionID, accumulated string)

	// OnAssistantMessage fires when a completed assistant message has
	// been persisted.
	OnAssistantMessage func(sessionID string, msg model.Message)

	// OnSessionChanged fires after a session is created, renamed, or
	// its message list is rewritten.
	OnSessionChanged func(sess *model.Session)

	// OnStreamError fires with the relay's error message when a stream
	// fails after content started flowing.
	OnStreamError func(sessionID, message string)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates session state, persistence, and streaming.
//
// User messages are persisted before any network activity, so a failed
// stream never loses user input. The in-flight assistant draft is
// ephemeral: it lives only in the OnDraft callback until the stream
// completes, at which point it is committed as a message with a fresh id.
type Controller struct {
	mu       sync.Mutex
	store    storage.Store
	consumer *client.Consumer
	events   Events
	sending  map[string]bool
	drafts   map[string]string
}

// New creates a controller over the given store and streaming consumer.
func New(store storage.Store, consumer *client.Consumer) *Controller {
	return &Controller{
		store:    store,
		consumer: consumer,
		sending:  make(map[string]bool),
		drafts:   make(map[string]string),
	}
}

// WithEvents sets the event callbacks. Returns the controller for chaining.
func (c *Controller) WithEvents(events Events) *Controller {
	c.events = events
	return c
}

// loadSession resolves a session id to a stored session. Store reads
// never fail, so the only error here is an unknown id.
func (c *Controller) loadSession(sessionID string) (*model.Session, error) {
	sess := c.store.Session(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// NewSession creates an empty session, persists it, and makes it active.
func (c *Controller) NewSession() (*model.Session, error) {
	sess := model.NewSession()
	if err := c.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := c.store.SetActiveSessionID(sess.ID); err != nil {
		return nil, fmt.Errorf("failed to set active session: %w", err)
	}
	c.fireSessionChanged(sess)
	return sess, nil
}

// Sessions returns all sessions, most recently created first.
func (c *Controller) Sessions() []model.Session {
	return c.store.Sessions()
}

// ActiveSession returns the active session, or nil when none is set or
// the active pointer is stale.
func (c *Controller) ActiveSession() *model.Session {
	id := c.store.ActiveSessionID()
	if id == "" {
		return nil
	}
	return c.store.Session(id)
}

// SwitchSession makes the given session active.
func (c *Controller) SwitchSession(sessionID string) error {
	if _, err := c.loadSession(sessionID); err != nil {
		return err
	}
	return c.store.SetActiveSessionID(sessionID)
}

// DeleteSession removes a session. If it was active, the store moves the
// active pointer to the first remaining session.
func (c *Controller) DeleteSession(sessionID string) error {
	return c.store.DeleteSession(sessionID)
}

// RenameSession sets a session's title, truncated to the display limit.
func (c *Controller) RenameSession(sessionID, title string) error {
	sess, err := c.loadSession(sessionID)
	if err != nil {
		return err
	}
	sess.Title = model.TitleFromContent(title)
	sess.UpdatedAt = model.NowMillis()
	if err := c.store.SaveSession(sess); err != nil {
		return err
	}
	c.fireSessionChanged(sess)
	return nil
}

// ExportSession renders a session transcript in the given format.
// Supported formats are "markdown" (the default when empty) and "json".
func (c *Controller) ExportSession(sessionID, format string) (string, error) {
	sess, err := c.loadSession(sessionID)
	if err != nil {
		return "", err
	}
	switch format {
	case "", "markdown":
		return storage.ExportMarkdown(sess), nil
	case "json":
		data, err := storage.ExportJSON(sess)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// SendMessage appends a user message to the session, persists it, then
// streams the assistant response. The returned message is the committed
// assistant message.
func (c *Controller) SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	if err := c.beginSend(sessionID); err != nil {
		return nil, err
	}
	defer c.endSend(sessionID)

	sess, err := c.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	// RELIABILITY: The user message is persisted before any network
	// call, so a stream failure never loses it.
	userMsg := model.NewUserMessage(content)
	sess.AppendMessage(userMsg)
	if len(sess.Messages) == 1 {
		sess.Title = model.TitleFromContent(content)
	}
	if err := c.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	c.fireSessionChanged(sess)

	return c.streamAssistant(ctx, sess)
}

// EditMessage rewrites history from the edited message onward: every
// message from the target forward is removed, then the new content is
// sent as a fresh user message.
func (c *Controller) EditMessage(ctx context.Context, sessionID, messageID, newContent string) (*model.Message, error) {
	if c.Sending(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSendInProgress, sessionID)
	}

	sess, err := c.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	idx := sess.IndexOf(messageID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	sess.TruncateBefore(idx)
	if err := c.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return c.SendMessage(ctx, sessionID, newContent)
}

// RegenerateMessage re-runs the nearest user message strictly preceding
// the target, as an edit of the target: history from the target onward
// is dropped and the user content is re-sent as a fresh message. When no
// user message precedes the target this is a no-op.
func (c *Controller) RegenerateMessage(ctx context.Context, sessionID, messageID string) (*model.Message, error) {
	if c.Sending(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSendInProgress, sessionID)
	}

	sess, err := c.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	idx := sess.IndexOf(messageID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	userMsg := sess.LastUserMessageBefore(idx)
	if userMsg == nil {
		return nil, nil
	}

	return c.EditMessage(ctx, sessionID, messageID, userMsg.Content)
}

// DeleteMessage removes exactly one message. Unknown ids are a no-op.
func (c *Controller) DeleteMessage(sessionID, messageID string) error {
	sess, err := c.loadSession(sessionID)
	if err != nil {
		return err
	}
	if !sess.RemoveMessage(messageID) {
		return nil
	}
	if err := c.store.SaveSession(sess); err != nil {
		return err
	}
	c.fireSessionChanged(sess)
	return nil
}

// =============================================================================
// STREAMING
// =============================================================================

// streamAssistant streams a completion for the session's current message
// history and commits the result as an assistant message.
func (c *Controller) streamAssistant(ctx context.Context, sess *model.Session) (*model.Message, error) {
	settings := c.store.Settings()
	systemPrompt := c.store.SystemPrompt()

	chatMessages := make([]model.ChatMessage, len(sess.Messages))
	for i, m := range sess.Messages {
		chatMessages[i] = model.ChatMessage{Role: m.Role, Content: m.Content}
	}

	temp := settings.Temperature
	req := model.ChatRequest{
		Messages:     chatMessages,
		Temperature:  &temp,
		SystemPrompt: systemPrompt,
		Model:        settings.SelectedModel,
	}

	sessionID := sess.ID
	text, err := c.consumer.Stream(ctx, req, client.Handler{
		OnDelta: func(accumulated string) {
			c.setDraft(sessionID, accumulated)
			if c.events.OnDraft != nil {
				c.events.OnDraft(sessionID, accumulated)
			}
		},
		OnError: func(message string) {
			if c.events.OnStreamError != nil {
				c.events.OnStreamError(sessionID, message)
			}
		},
	})
	c.clearDraft(sessionID)

	if err != nil {
		log.Printf("SEND_FAILED | session=%s error=%v", sessionID, err)
		return nil, err
	}

	// The session may have been renamed while streaming; reload before
	// committing the assistant message.
	sess, loadErr := c.loadSession(sessionID)
	if loadErr != nil {
		return nil, loadErr
	}

	assistantMsg := model.NewAssistantMessage(text)
	sess.AppendMessage(assistantMsg)
	if err := c.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if c.events.OnAssistantMessage != nil {
		c.events.OnAssistantMessage(sessionID, assistantMsg)
	}
	c.fireSessionChanged(sess)
	return &assistantMsg, nil
}

// =============================================================================
// SETTINGS OPERATIONS
// =============================================================================

// SystemPrompt returns the persisted system prompt.
func (c *Controller) SystemPrompt() string {
	return c.store.SystemPrompt()
}

// SetSystemPrompt persists the system prompt.
func (c *Controller) SetSystemPrompt(prompt string) error {
	return c.store.SetSystemPrompt(prompt)
}

// Settings returns the persisted generation settings.
func (c *Controller) Settings() model.GenerationSettings {
	return c.store.Settings()
}

// SetTemperature persists a new sampling temperature. Out-of-range
// values are sanitized before the write, not just on read.
func (c *Controller) SetTemperature(temp float64) error {
	settings := c.store.Settings()
	settings.Temperature = temp
	return c.store.SetSettings(settings.Sanitize())
}

// SetModel persists a new model selection.
func (c *Controller) SetModel(modelID string) error {
	settings := c.store.Settings()
	settings.SelectedModel = modelID
	return c.store.SetSettings(settings.Sanitize())
}

// =============================================================================
// SEND STATE
// =============================================================================

// Sending reports whether the session has a stream in flight.
func (c *Controller) Sending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending[sessionID]
}

// Draft returns the in-flight assistant text for the session, if any.
func (c *Controller) Draft(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	draft, ok := c.drafts[sessionID]
	return draft, ok
}

// beginSend marks the session as streaming, rejecting concurrent sends.
func (c *Controller) beginSend(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending[sessionID] {
		return fmt.Errorf("%w: %s", ErrSendInProgress, sessionID)
	}
	c.sending[sessionID] = true
	return nil
}

// endSend clears the session's streaming state.
func (c *Controller) endSend(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sending, sessionID)
}

func (c *Controller) setDraft(sessionID, accumulated string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[sessionID] = accumulated
}

func (c *Controller) clearDraft(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drafts, sessionID)
}

func (c *Controller) fireSessionChanged(sess *model.Session) {
	if c.events.OnSessionChanged != nil {
		c.events.OnSessionChanged(sess)
	}
}
