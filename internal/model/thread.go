// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// ContainerAboutMe is the reserved container tag for threads owned by the
// about-me pipeline. Threads carrying it are hidden from all general listings.
const ContainerAboutMe = "about-me"

// =============================================================================
// THREAD MODE
// =============================================================================

// Mode describes what a thread is bound to.
type Mode int

const (
	// ModeNone is a thread with no model or agent association.
	ModeNone Mode = iota
	// ModeDirectModel is a thread bound to a model/provider identifier.
	ModeDirectModel
	// ModeAgent is a thread bound to a named agent.
	ModeAgent
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDirectModel:
		return "direct-model"
	case ModeAgent:
		return "agent"
	default:
		return "none"
	}
}

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread is a named, ordered conversation container.
//
// Messages are append-only; the only replacement that ever happens is the
// single commit that finalizes a streamed assistant reply. The ID is immutable
// after creation.
type Thread struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// Flags
	Pinned   bool `json:"pinned"`
	Starred  bool `json:"starred"`
	Archived bool `json:"archived"`

	// Binding: at most one of (ModelID+ProviderID) or AgentName is set.
	ModelID    string `json:"model_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	AgentName  string `json:"agent_name,omitempty"`

	// Container identifies the owning space ("" = global scope).
	Container string `json:"container,omitempty"`
}

// NewThread creates a new thread with a generated ID.
func NewThread() *Thread {
	now := time.Now()
	return &Thread{
		ID:        generateThreadID(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// NewThreadWithModel creates a thread bound to a model/provider pair.
func NewThreadWithModel(modelID, providerID string) *Thread {
	t := NewThread()
	t.ModelID = modelID
	t.ProviderID = providerID
	return t
}

// NewThreadWithAgent creates a thread bound to a named agent.
func NewThreadWithAgent(agentName string) *Thread {
	t := NewThread()
	t.AgentName = agentName
	return t
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message and advances the update timestamp.
func (t *Thread) AddMessage(msg *Message) {
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now()
	t.updateTitle()
}

// LastMessage returns the most recent message, or nil if empty.
func (t *Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return t.Messages[len(t.Messages)-1]
}

// MessageCount returns the number of messages.
func (t *Thread) MessageCount() int {
	return len(t.Messages)
}

// IsEmpty returns true if there are no messages.
func (t *Thread) IsEmpty() bool {
	return len(t.Messages) == 0
}

// ContainsText reports whether the title or any message content contains the
// given lowercased needle. The needle must already be lowercased by the caller.
func (t *Thread) ContainsText(lowerNeedle string) bool {
	if containsFold(t.Title, lowerNeedle) {
		return true
	}
	for _, msg := range t.Messages {
		if containsFold(msg.Content, lowerNeedle) {
			return true
		}
	}
	return false
}

// =============================================================================
// BINDING
// =============================================================================

// Mode returns what the thread is bound to. Agent binding wins if both are
// somehow set, matching the send path's backend selection.
func (t *Thread) Mode() Mode {
	if t.AgentName != "" {
		return ModeAgent
	}
	if t.ModelID != "" || t.ProviderID != "" {
		return ModeDirectModel
	}
	return ModeNone
}

// BindModel rebinds the thread to a model/provider pair, clearing any agent
// association.
func (t *Thread) BindModel(modelID, providerID string) {
	t.ModelID = modelID
	t.ProviderID = providerID
	t.AgentName = ""
	t.UpdatedAt = time.Now()
}

// BindAgent rebinds the thread to a named agent, clearing any model binding.
func (t *Thread) BindAgent(agentName string) {
	t.AgentName = agentName
	t.ModelID = ""
	t.ProviderID = ""
	t.UpdatedAt = time.Now()
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle auto-generates a title from the first user message if not set.
func (t *Thread) updateTitle() {
	if t.Title != "" {
		return
	}
	for _, msg := range t.Messages {
		if msg.Role == RoleUser {
			t.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the thread title.
func (t *Thread) SetTitle(title string) {
	t.Title = title
	t.UpdatedAt = time.Now()
}

// GetTitle returns the thread title or a default.
func (t *Thread) GetTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return "New Thread"
}

// =============================================================================
// COPYING
// =============================================================================

// Clone creates a deep copy of the thread. Listings hand out clones so that
// callers can never mutate store state behind the lock.
func (t *Thread) Clone() *Thread {
	clone := &Thread{
		ID:         t.ID,
		Title:      t.Title,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		Pinned:     t.Pinned,
		Starred:    t.Starred,
		Archived:   t.Archived,
		ModelID:    t.ModelID,
		ProviderID: t.ProviderID,
		AgentName:  t.AgentName,
		Container:  t.Container,
		Messages:   make([]*Message, len(t.Messages)),
	}
	for i, msg := range t.Messages {
		msgCopy := *msg
		clone.Messages[i] = &msgCopy
	}
	return clone
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateThreadID creates a unique thread ID.
func generateThreadID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "thr_" + hex.EncodeToString(bytes)
}

// containsFold reports whether s contains the already-lowercased needle,
// ignoring case in s.
func containsFold(s, lowerNeedle string) bool {
	if lowerNeedle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}
