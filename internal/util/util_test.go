// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the chatrelay application.
package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "test.txt")
	data := []byte("hello, world!")

	err := AtomicWriteFile(path, data, 0644)
	if err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	// Verify content
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "subdir", "deep", "test.txt")

	err := AtomicWriteFile(path, []byte("test data"), 0644)
	if err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "test.txt")

	// Write initial content
	if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}

	// Overwrite
	if err := AtomicWriteFile(path, []byte("updated"), 0644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "updated" {
		t.Errorf("Content not updated: got %q", string(content))
	}
}

func TestAtomicWriteFile_EmptyData(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "empty.txt")

	err := AtomicWriteFile(path, []byte{}, 0644)
	if err != nil {
		t.Fatalf("AtomicWriteFile failed for empty data: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("File not created: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected empty file, got size %d", info.Size())
	}
}

// =============================================================================
// STRING TRUNCATION TESTS
// =============================================================================

func TestTruncateRunes_ASCII(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"hello", 5, "hello"},
		{"hi", 5, "hi"},
		{"", 5, ""},
		{"hello world", 0, ""},
		{"hello world", 11, "hello world"},
		{"ab", 3, "ab"},
		{"abcd", 3, "abc"}, // When maxRunes <= 3, no ellipsis is added
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result := TruncateRunes(tc.input, tc.maxRunes)
			if result != tc.expected {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q",
					tc.input, tc.maxRunes, result, tc.expected)
			}
		})
	}
}

func TestTruncateRunesNoEllipsis(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"hello world", 5, "hello"},
		{"hello", 5, "hello"},
		{"hi", 5, "hi"},
		{"", 5, ""},
		{"hello world", 0, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result := TruncateRunesNoEllipsis(tc.input, tc.maxRunes)
			if result != tc.expected {
				t.Errorf("TruncateRunesNoEllipsis(%q, %d) = %q, want %q",
					tc.input, tc.maxRunes, result, tc.expected)
			}
		})
	}
}

func TestTruncateRunesNoEllipsis_UTF8(t *testing.T) {
	result := TruncateRunesNoEllipsis("日本語のテスト", 3)
	if got := len([]rune(result)); got != 3 {
		t.Errorf("result %q has %d runes, want 3", result, got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"hello\nworld", "hello world"},
		{"a\t\tb", "a b"},
		{"  spaced   out  ", "spaced out"},
		{"clean", "clean"},
		{"", ""},
	}

	for _, tc := range testCases {
		result := CollapseWhitespace(tc.input)
		if result != tc.expected {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}
