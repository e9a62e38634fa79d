// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

// Generation defaults. These mirror the persisted settings record and are
// applied whenever a stored value is missing or out of range.
const (
	DefaultModel        = "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo"
	DefaultTemperature  = 0.7
	DefaultSystemPrompt = "You are a helpful AI assistant."

	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// GenerationSettings holds the user-tunable generation parameters.
type GenerationSettings struct {
	Temperature   float64 `json:"temperature"`
	SelectedModel string  `json:"selectedModel"`
}

// DefaultSettings returns the default generation settings.
func DefaultSettings() GenerationSettings {
	return GenerationSettings{
		Temperature:   DefaultTemperature,
		SelectedModel: DefaultModel,
	}
}

// Sanitize clamps out-of-range values back to defaults. Used when loading
// a possibly stale or hand-edited settings record.
func (g GenerationSettings) Sanitize() GenerationSettings {
	if g.Temperature < MinTemperature || g.Temperature > MaxTemperature {
		g.Temperature = DefaultTemperature
	}
	if g.SelectedModel == "" {
		g.SelectedModel = DefaultModel
	}
	return g
}
