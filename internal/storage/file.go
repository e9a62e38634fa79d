// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for chatrelay.
package storage

import (
	"os"
	"path/filepath"

	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// fileBackend stores each record in its own file under a base directory.
// Default layout: ~/.chatrelay/data/<key>.json
type fileBackend struct {
	baseDir string
}

// NewFileStore creates a file-backed store rooted at baseDir.
func NewFileStore(baseDir string) (*RecordStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return newRecordStore(&fileBackend{baseDir: baseDir}), nil
}

// NewDefaultFileStore creates a file-backed store under the user home.
func NewDefaultFileStore() (*RecordStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewFileStore(filepath.Join(homeDir, ".chatrelay", "data"))
}

func (b *fileBackend) recordPath(key string) string {
	return filepath.Join(b.baseDir, key+".json")
}

func (b *fileBackend) read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.recordPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (b *fileBackend) write(key string, data []byte) error {
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(b.recordPath(key), data, 0644)
}

func (b *fileBackend) close() error {
	return nil
}
