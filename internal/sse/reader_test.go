// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"io"
	"strings"
	"testing"
)

func TestReader_SingleEvent(t *testing.T) {
	r := NewReader(strings.NewReader("data: {\"content\":\"hi\"}\n\n"))

	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != `{"content":"hi"}` {
		t.Errorf("data = %q, want %q", data, `{"content":"hi"}`)
	}

	_, _, err = r.ReadEvent()
	if err != io.EOF {
		t.Errorf("expected io.EOF after last event, got %v", err)
	}
}

func TestReader_MultipleEvents(t *testing.T) {
	input := "data: one\n\ndata: two\n\ndata: [DONE]\n\n"
	r := NewReader(strings.NewReader(input))

	want := []string{"one", "two", "[DONE]"}
	for i, w := range want {
		_, data, err := r.ReadEvent()
		if err != nil {
			t.Fatalf("event %d: ReadEvent failed: %v", i, err)
		}
		if string(data) != w {
			t.Errorf("event %d: data = %q, want %q", i, data, w)
		}
	}
}

func TestReader_EventType(t *testing.T) {
	r := NewReader(strings.NewReader("event: delta\ndata: hello\n\n"))

	eventType, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if eventType != "delta" {
		t.Errorf("eventType = %q, want %q", eventType, "delta")
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want %q", data, "hello")
	}
}

func TestReader_CRLF(t *testing.T) {
	r := NewReader(strings.NewReader("data: windows\r\n\r\n"))

	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "windows" {
		t.Errorf("data = %q, want %q", data, "windows")
	}
}

func TestReader_IgnoresCommentsAndIDs(t *testing.T) {
	input := ": keepalive\nid: 42\nretry: 1000\ndata: payload\n\n"
	r := NewReader(strings.NewReader(input))

	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q, want %q", data, "payload")
	}
}

func TestReader_FlushesDataAtEOF(t *testing.T) {
	// Stream cut off before the blank line: buffered data still surfaces.
	r := NewReader(strings.NewReader("data: partial"))

	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "partial" {
		t.Errorf("data = %q, want %q", data, "partial")
	}

	_, _, err = r.ReadEvent()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_MultiLineData(t *testing.T) {
	r := NewReader(strings.NewReader("data: line1\ndata: line2\n\n"))

	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "line1\nline2" {
		t.Errorf("data = %q, want %q", data, "line1\nline2")
	}
}

func TestReader_OversizedEventRejected(t *testing.T) {
	huge := strings.Repeat("x", MaxEventSize+1)
	r := NewReader(strings.NewReader("data: " + huge + "\n\n"))

	_, _, err := r.ReadEvent()
	if err != ErrEventTooLarge {
		t.Errorf("error = %v, want ErrEventTooLarge", err)
	}
}

func TestReader_SizeLimitSpansDataLines(t *testing.T) {
	// Two data lines that individually fit but jointly exceed the cap.
	half := strings.Repeat("y", MaxEventSize/2+1)
	input := "data: " + half + "\ndata: " + half + "\n\n"
	r := NewReader(strings.NewReader(input))

	_, _, err := r.ReadEvent()
	if err != ErrEventTooLarge {
		t.Errorf("error = %v, want ErrEventTooLarge", err)
	}
}

func TestIsDone(t *testing.T) {
	if !IsDone([]byte("[DONE]")) {
		t.Error("IsDone([DONE]) = false")
	}
	if IsDone([]byte(`{"content":"x"}`)) {
		t.Error("IsDone(json) = true")
	}
}
