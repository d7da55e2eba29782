// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat wires the thread store, assembler, backends, and persistence
// into the send path.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/envoyhq/envoy-core/internal/assembler"
	"github.com/envoyhq/envoy-core/internal/backend"
	"github.com/envoyhq/envoy-core/internal/model"
	"github.com/envoyhq/envoy-core/internal/prompt"
	"github.com/envoyhq/envoy-core/internal/storage"
	"github.com/envoyhq/envoy-core/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyInput is returned when Send is called with no text.
	ErrEmptyInput = errors.New("input is empty")

	// ErrNoAgent is returned when a thread is bound to an agent with no
	// registered backend.
	ErrNoAgent = errors.New("no backend registered for agent")
)

// =============================================================================
// NOTICES
// =============================================================================

// Notice is a dismissible, banner-level message for the caller. Generation
// failures produce both a transcript message and one of these.
type Notice struct {
	Text string
	Err  error
}

// NoticeFunc receives banner-level notices.
type NoticeFunc func(Notice)

// =============================================================================
// ENGINE
// =============================================================================

// Deps are the engine's collaborators, injected at the composition root.
// There is no ambient global state: everything the engine touches is here.
type Deps struct {
	Store   *store.ThreadStore
	Local   backend.ChatBackend
	Persist *storage.Store // optional; nil disables persistence
	Notice  NoticeFunc     // optional

	// DefaultModel is used for unbound threads.
	DefaultModel string
}

// Engine is the send-path facade over the transcript core.
type Engine struct {
	store        *store.ThreadStore
	asm          *assembler.Assembler
	local        backend.ChatBackend
	agents       map[string]backend.AgentBackend
	persist      *storage.Store
	notice       NoticeFunc
	defaultModel string
}

// NewEngine creates an engine from its dependencies.
func NewEngine(deps Deps) *Engine {
	return &Engine{
		store:        deps.Store,
		asm:          assembler.New(deps.Store),
		local:        deps.Local,
		agents:       make(map[string]backend.AgentBackend),
		persist:      deps.Persist,
		notice:       deps.Notice,
		defaultModel: deps.DefaultModel,
	}
}

// RegisterAgent makes an agent backend addressable by thread binding.
func (e *Engine) RegisterAgent(name string, b backend.AgentBackend) {
	e.agents[name] = b
}

// Assembler exposes the per-thread generation state for callers that gate UI.
func (e *Engine) Assembler() *assembler.Assembler {
	return e.asm
}

// =============================================================================
// SEND PATH
// =============================================================================

// Send appends the user's message, streams the reply, and commits it.
//
// The transcript always receives the user's literal input; the backend
// receives the context-rewritten prompt. Ordering is guaranteed by appending
// the user message before the stream is opened.
//
// The thread's generation slot is claimed before anything is committed: a
// concurrent Send to the same thread fails with ErrGenerationInProgress and
// leaves no orphan user turn behind.
//
// Blocks until the generation finishes; run it from a goroutine when the
// caller must not block. Progress is observable via onFragment.
func (e *Engine) Send(ctx context.Context, threadID, input string, uiCtx prompt.Context, onFragment assembler.FragmentFunc) (*assembler.Result, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}

	thread, err := e.store.Get(threadID)
	if err != nil {
		return nil, err
	}
	if err := e.asm.Reserve(threadID); err != nil {
		return nil, err
	}

	// History excludes the message being sent.
	history := historyOf(thread)
	outPrompt, sysPrompt := prompt.Build(input, uiCtx)

	if err := e.store.Append(threadID, model.NewUserMessage(input)); err != nil {
		e.asm.Release(threadID)
		return nil, err
	}

	fragments, err := e.openStream(ctx, thread, outPrompt, sysPrompt, history)
	if err != nil {
		e.asm.Release(threadID)
		// The user message stays in the transcript; surface the failure.
		e.sendNotice("Could not reach the backend", err)
		e.persistAsync(threadID)
		return nil, err
	}

	result, err := e.asm.AssembleReserved(ctx, threadID, fragments, onFragment)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.sendNotice("Response generation failed", err)
	}

	e.persistAsync(threadID)
	return result, err
}

// openStream picks the backend from the thread binding and starts the stream.
func (e *Engine) openStream(ctx context.Context, thread *model.Thread, outPrompt, sysPrompt string, history []backend.HistoryMessage) (<-chan backend.Fragment, error) {
	if thread.Mode() == model.ModeAgent {
		agentBackend, ok := e.agents[thread.AgentName]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoAgent, thread.AgentName)
		}
		return agentBackend.SendMessage(ctx, outPrompt)
	}

	modelID := thread.ModelID
	if modelID == "" {
		modelID = e.defaultModel
	}
	return e.local.ChatStream(ctx, backend.ChatRequest{
		Model:        modelID,
		Prompt:       outPrompt,
		SystemPrompt: sysPrompt,
		History:      history,
	})
}

// historyOf converts a thread's committed turns into backend history.
func historyOf(t *model.Thread) []backend.HistoryMessage {
	history := make([]backend.HistoryMessage, 0, len(t.Messages))
	for _, msg := range t.Messages {
		history = append(history, backend.HistoryMessage{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return history
}

// =============================================================================
// THREAD LIFECYCLE
// =============================================================================

// CreateThread makes a new direct-model thread. Empty modelID binds nothing;
// the default model applies at send time.
func (e *Engine) CreateThread(modelID, providerID string) *model.Thread {
	t := e.store.Create()
	if modelID != "" {
		if err := e.store.BindModel(t.ID, modelID, providerID); err == nil {
			t.BindModel(modelID, providerID)
		}
	}
	e.persistAsync(t.ID)
	return t
}

// CreateAgentThread makes a new thread bound to a named agent.
func (e *Engine) CreateAgentThread(agentName string) *model.Thread {
	t := e.store.Create()
	if err := e.store.BindAgent(t.ID, agentName); err == nil {
		t.BindAgent(agentName)
	}
	e.persistAsync(t.ID)
	return t
}

// DeleteThread removes a thread from the store and from persistence.
func (e *Engine) DeleteThread(id string) error {
	if err := e.store.Remove(id); err != nil {
		return err
	}
	if e.persist != nil {
		if err := e.persist.DeleteThread(id); err != nil && !errors.Is(err, storage.ErrThreadNotFound) {
			e.sendNotice("Failed to delete stored thread", err)
		}
	}
	return nil
}

// Hydrate loads every persisted thread into the store at startup.
func (e *Engine) Hydrate() error {
	if e.persist == nil {
		return nil
	}
	threads, err := e.persist.LoadAll()
	if err != nil {
		return err
	}
	for _, t := range threads {
		if err := e.store.Add(t); err != nil && !errors.Is(err, store.ErrDuplicateThread) {
			return err
		}
	}
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistAsync saves the thread in the background, best effort. Persistence
// failures never block or fail the send path; they surface as notices.
func (e *Engine) persistAsync(threadID string) {
	if e.persist == nil {
		return
	}
	thread, err := e.store.Get(threadID)
	if err != nil {
		return
	}
	go func() {
		if err := e.persist.SaveThread(thread); err != nil {
			e.sendNotice("Failed to save thread", err)
		}
	}()
}

// sendNotice delivers a banner-level notice if a sink is registered.
func (e *Engine) sendNotice(text string, err error) {
	if e.notice != nil {
		e.notice(Notice{Text: text, Err: err})
	}
}
