// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for chatrelay.
//
// This package persists four independent records: the session list (most
// recent first), the active session id, the system prompt, and the
// generation settings. A missing or corrupt record degrades to its
// default value rather than surfacing an error; the four records never
// affect one another.
//
// # Key Types
//
//   - Store: the persistence interface
//   - RecordStore: Store implementation over a pluggable record backend
//
// Two backends are provided: a file backend writing one file per record
// with atomic renames, and a SQLite backend keeping all records in a
// single database.
//
// # Usage
//
// Create a store and save a session:
//
//	store, err := storage.NewFileStore(dataDir)
//	err = store.SaveSession(sess)
//
// Read records (reads never fail):
//
//	sessions := store.Sessions()
//	settings := store.Settings()
//
// # Storage Location
//
// The default file backend writes to ~/.chatrelay/data/; the SQLite
// backend defaults to ~/.chatrelay/chatrelay.db.
package storage
