// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for chatrelay.
package storage

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/jeranaias/chatrelay/internal/model"
)

// recordBackend reads and writes opaque record payloads by key. The file
// and SQLite backends both satisfy this; RecordStore layers the chat
// semantics on top.
type recordBackend interface {
	// read returns the payload and whether the record exists.
	read(key string) ([]byte, bool, error)

	// write persists the payload for a key, replacing any previous value.
	write(key string, data []byte) error

	// close releases backend resources.
	close() error
}

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore implements Store over a recordBackend.
type RecordStore struct {
	mu      sync.Mutex
	backend recordBackend
}

// newRecordStore wraps a backend in the Store semantics.
func newRecordStore(b recordBackend) *RecordStore {
	return &RecordStore{backend: b}
}

// Sessions returns all sessions, most recently saved first.
func (s *RecordStore) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSessions()
}

// loadSessions reads the sessions record. Caller holds the lock.
// RELIABILITY: Corrupt or missing data degrades to an empty list.
func (s *RecordStore) loadSessions() []model.Session {
	data, ok, err := s.backend.read(keySessions)
	if err != nil {
		log.Printf("STORAGE_READ_FAILED | record=%s error=%v", keySessions, err)
		return []model.Session{}
	}
	if !ok {
		return []model.Session{}
	}

	var sessions []model.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Printf("STORAGE_CORRUPT | record=%s error=%v", keySessions, err)
		return []model.Session{}
	}
	return sessions
}

// saveSessions writes the sessions record. Caller holds the lock.
func (s *RecordStore) saveSessions(sessions []model.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.write(keySessions, data)
}

// Session returns the session with the given id, or nil.
func (s *RecordStore) Session(id string) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.loadSessions() {
		if sess.ID == id {
			found := sess
			return &found
		}
	}
	return nil
}

// SaveSession persists a session, replacing by id or prepending when new.
func (s *RecordStore) SaveSession(sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.loadSessions()
	for i := range sessions {
		if sessions[i].ID == sess.ID {
			sessions[i] = *sess
			return s.saveSessions(sessions)
		}
	}

	// New sessions go to the front so the list stays most-recent-first.
	sessions = append([]model.Session{*sess}, sessions...)
	return s.saveSessions(sessions)
}

// DeleteSession removes a session and repairs the active pointer.
func (s *RecordStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.loadSessions()
	idx := -1
	for i := range sessions {
		if sessions[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	sessions = append(sessions[:idx], sessions[idx+1:]...)
	if err := s.saveSessions(sessions); err != nil {
		return err
	}

	if s.loadActiveID() == id {
		next := ""
		if len(sessions) > 0 {
			next = sessions[0].ID
		}
		return s.backend.write(keyActiveSession, []byte(next))
	}
	return nil
}

// ActiveSessionID returns the active session id, or "" when none.
func (s *RecordStore) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadActiveID()
}

// loadActiveID reads the active pointer. Caller holds the lock.
func (s *RecordStore) loadActiveID() string {
	data, ok, err := s.backend.read(keyActiveSession)
	if err != nil {
		log.Printf("STORAGE_READ_FAILED | record=%s error=%v", keyActiveSession, err)
		return ""
	}
	if !ok {
		return ""
	}
	return string(data)
}

// SetActiveSessionID persists the active session pointer.
func (s *RecordStore) SetActiveSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.write(keyActiveSession, []byte(id))
}

// SystemPrompt returns the stored system prompt, or the default.
func (s *RecordStore) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.backend.read(keySystemPrompt)
	if err != nil {
		log.Printf("STORAGE_READ_FAILED | record=%s error=%v", keySystemPrompt, err)
		return model.DefaultSystemPrompt
	}
	if !ok {
		return model.DefaultSystemPrompt
	}
	return string(data)
}

// SetSystemPrompt persists the system prompt.
func (s *RecordStore) SetSystemPrompt(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.write(keySystemPrompt, []byte(prompt))
}

// Settings returns the stored generation settings, sanitized.
func (s *RecordStore) Settings() model.GenerationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.backend.read(keySettings)
	if err != nil {
		log.Printf("STORAGE_READ_FAILED | record=%s error=%v", keySettings, err)
		return model.DefaultSettings()
	}
	if !ok {
		return model.DefaultSettings()
	}

	var settings model.GenerationSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		log.Printf("STORAGE_CORRUPT | record=%s error=%v", keySettings, err)
		return model.DefaultSettings()
	}
	return settings.Sanitize()
}

// SetSettings persists the generation settings.
func (s *RecordStore) SetSettings(settings model.GenerationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.write(keySettings, data)
}

// Close releases backend resources.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.close()
}
