// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements Server-Sent Events parsing and framing shared by
// the relay server, the upstream provider adapters, and the stream consumer.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// STREAMING: Robust SSE parsing with partial-line buffering

// DoneSignal is the sentinel data payload that terminates a stream.
const DoneSignal = "[DONE]"

// MaxEventSize is the maximum allowed size for a single SSE event (64KB).
const MaxEventSize = 64 * 1024

// ErrEventTooLarge is returned when an event's data exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("sse event exceeds size limit")

// =============================================================================
// READER
// =============================================================================

// Reader parses Server-Sent Events from a stream. Lines arriving split
// across reads are buffered until the terminating newline, so callers see
// whole events regardless of how the transport chunks the bytes.
type Reader struct {
	reader *bufio.Reader
}

// NewReader creates a new SSE reader from an io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type (usually empty), data, and any error.
// Returns io.EOF when the stream ends, ErrEventTooLarge when the
// event's accumulated data exceeds MaxEventSize.
func (s *Reader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	dataSize := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// If we have buffered data, return it before EOF
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		// Trim trailing newline and carriage return
		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		// Parse field
		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			dataSize += len(data)
			if dataSize > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
			dataLines = append(dataLines, data)
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// IsDone reports whether the data payload is the stream terminator.
func IsDone(data []byte) bool {
	return bytes.Equal(data, []byte(DoneSignal))
}
