// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for chatrelay.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE BACKEND
// =============================================================================

// recordSchema holds the four independent records in a single table.
const recordSchema = `
CREATE TABLE IF NOT EXISTS records (
    key   TEXT PRIMARY KEY,
    value BLOB NOT NULL
) WITHOUT ROWID;
`

// sqliteBackend stores records in a SQLite database.
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
func NewSQLiteStore(path string) (*RecordStore, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return newRecordStore(&sqliteBackend{db: db}), nil
}

func (b *sqliteBackend) read(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRow("SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *sqliteBackend) write(key string, data []byte) error {
	_, err := b.db.Exec(
		"INSERT INTO records (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, data)
	return err
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
