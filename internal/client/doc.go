// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client consumes the relay's streaming chat API.
//
// The Consumer posts a chat request to the relay and folds the SSE
// content frames into a single accumulated string, invoking a handler
// callback once per frame with the text so far. In-band error frames
// and dropped connections both surface as a StreamError that preserves
// partial content.
package client
