// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the provider abstraction consumed by the assembler.
package backend

import (
	"context"
	"time"
)

// =============================================================================
// FRAGMENT TYPE
// =============================================================================

// Fragment is one incremental piece of a streamed generation.
//
// A stream is a channel of fragments closed by the producer. The final
// fragment of a successful stream has Done set and carries statistics; a
// failed stream delivers a fragment with Err set and then closes.
type Fragment struct {
	// Content is the text delta ("" on pure control fragments).
	Content string

	// Done marks the final fragment of a successful stream.
	Done bool

	// Err, when non-nil, terminates the stream with an error.
	Err error

	// Stats is populated on the Done fragment if the backend reports them.
	Stats *Stats
}

// Stats holds backend-reported generation statistics.
type Stats struct {
	Model            string
	Provider         string
	TokensGenerated  int
	TotalDuration    time.Duration
	TimeToFirstToken time.Duration
	TokensPerSecond  float64
}

// =============================================================================
// LOAD PROGRESS
// =============================================================================

// LoadProgress reports model-load progress ahead of streaming.
type LoadProgress struct {
	// Fraction is completion in the range 0.0 to 1.0.
	Fraction float64

	// Status is a human-readable description of the current step.
	Status string
}

// ProgressFunc receives load progress updates.
type ProgressFunc func(LoadProgress)

// =============================================================================
// BACKEND INTERFACES
// =============================================================================

// ChatRequest is the outbound request for a direct-model generation.
type ChatRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	History      []HistoryMessage
}

// HistoryMessage is one prior turn sent as context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatBackend produces streamed generations from a direct model provider.
//
// ChatStream returns immediately with a fragment channel; the producer closes
// it when the stream ends. Cancellation is cooperative via ctx.
type ChatBackend interface {
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Fragment, error)
	LoadModel(ctx context.Context, modelID string, progress ProgressFunc) error
	Ready() bool
	LoadedModel() string
	Describe() string
}

// AgentBackend produces streamed deltas from a named remote agent.
type AgentBackend interface {
	Connected() bool
	SendMessage(ctx context.Context, prompt string) (<-chan Fragment, error)
}
