// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single committed turn in a thread.
//
// A Message is immutable once created: streamed content is accumulated outside
// the message (see the assembler package) and committed here exactly once.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Generation metadata (for assistant messages)
	Model        string  `json:"model,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	TokenCount   int     `json:"token_count,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TTFTMs       int64   `json:"ttft_ms,omitempty"`
	TokensPerSec float64 `json:"tokens_per_sec,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a committed assistant message with optional
// generation statistics.
func NewAssistantMessage(content string, stats *GenerationStats) *Message {
	msg := NewMessage(RoleAssistant, content)
	if stats != nil {
		msg.Model = stats.Model
		msg.Provider = stats.Provider
		msg.TokenCount = stats.TokensGenerated
		msg.DurationMs = stats.TotalDuration.Milliseconds()
		msg.TTFTMs = stats.TimeToFirstToken.Milliseconds()
		msg.TokensPerSec = stats.TokensPerSecond
	}
	return msg
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly. Budgets too small
// for an ellipsis return a bare prefix.
func (m *Message) Preview(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// =============================================================================
// GENERATION STATISTICS
// =============================================================================

// GenerationStats holds timing and token information reported by a backend
// for one completed generation.
type GenerationStats struct {
	Model            string
	Provider         string
	TokensGenerated  int
	TotalDuration    time.Duration
	TimeToFirstToken time.Duration
	TokensPerSecond  float64
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
