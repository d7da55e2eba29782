// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/envoyhq/envoy-core/internal/assembler"
	"github.com/envoyhq/envoy-core/internal/backend"
	"github.com/envoyhq/envoy-core/internal/model"
	"github.com/envoyhq/envoy-core/internal/prompt"
	"github.com/envoyhq/envoy-core/internal/store"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeBackend scripts one stream per ChatStream call and records requests.
type fakeBackend struct {
	fragments []backend.Fragment
	openErr   error
	requests  []backend.ChatRequest
}

func (f *fakeBackend) ChatStream(ctx context.Context, req backend.ChatRequest) (<-chan backend.Fragment, error) {
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	out := make(chan backend.Fragment, len(f.fragments))
	for _, frag := range f.fragments {
		out <- frag
	}
	close(out)
	return out, nil
}

func (f *fakeBackend) LoadModel(ctx context.Context, modelID string, progress backend.ProgressFunc) error {
	return nil
}
func (f *fakeBackend) Ready() bool         { return true }
func (f *fakeBackend) LoadedModel() string { return "fake-model" }
func (f *fakeBackend) Describe() string    { return "fake" }

// fakeAgent is an AgentBackend with a scripted stream.
type fakeAgent struct {
	prompts []string
}

func (f *fakeAgent) Connected() bool { return true }

func (f *fakeAgent) SendMessage(ctx context.Context, p string) (<-chan backend.Fragment, error) {
	f.prompts = append(f.prompts, p)
	out := make(chan backend.Fragment, 2)
	out <- backend.Fragment{Content: "agent reply"}
	out <- backend.Fragment{Done: true}
	close(out)
	return out, nil
}

func newTestEngine(fb *fakeBackend) (*Engine, *store.ThreadStore) {
	s := store.NewThreadStore()
	e := NewEngine(Deps{
		Store:        s,
		Local:        fb,
		DefaultModel: "llama3.2:3b",
	})
	return e, s
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendCommitsUserThenAssistant(t *testing.T) {
	fb := &fakeBackend{fragments: []backend.Fragment{
		{Content: "Hi"},
		{Content: " there!"},
		{Done: true, Stats: &backend.Stats{Model: "llama3.2:3b", TokensGenerated: 2}},
	}}
	e, s := newTestEngine(fb)
	th := e.CreateThread("", "")

	before, _ := s.Get(th.ID)
	time.Sleep(time.Millisecond)

	var total string
	result, err := e.Send(context.Background(), th.ID, "Hi", prompt.NoContext, func(_, t string) {
		total = t
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Message == nil || result.Message.Content != "Hi there!" {
		t.Fatalf("committed = %v, want %q", result.Message, "Hi there!")
	}
	if total != "Hi there!" {
		t.Errorf("callback total = %q", total)
	}

	after, _ := s.Get(th.ID)
	if after.MessageCount() != 2 {
		t.Fatalf("MessageCount = %d, want 2", after.MessageCount())
	}
	if after.Messages[0].Role != model.RoleUser || after.Messages[0].Content != "Hi" {
		t.Errorf("message[0] = %v, want literal user input", after.Messages[0])
	}
	if after.Messages[1].Role != model.RoleAssistant {
		t.Errorf("message[1] role = %q", after.Messages[1].Role)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("UpdatedAt should advance across a send")
	}
}

func TestSendUsesDefaultModelForUnboundThread(t *testing.T) {
	fb := &fakeBackend{fragments: []backend.Fragment{{Done: true}}}
	e, _ := newTestEngine(fb)
	th := e.CreateThread("", "")

	e.Send(context.Background(), th.ID, "hello", prompt.NoContext, nil)

	if len(fb.requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(fb.requests))
	}
	if fb.requests[0].Model != "llama3.2:3b" {
		t.Errorf("Model = %q, want default", fb.requests[0].Model)
	}
}

func TestSendRewritesPromptButNotTranscript(t *testing.T) {
	fb := &fakeBackend{fragments: []backend.Fragment{{Content: "ok"}, {Done: true}}}
	e, s := newTestEngine(fb)
	th := e.CreateThread("", "")

	docCtx := prompt.DocumentContext("The quarterly report draft.")
	if _, err := e.Send(context.Background(), th.ID, "Improve this", docCtx, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	req := fb.requests[0]
	if !strings.Contains(req.Prompt, "The quarterly report draft.") {
		t.Error("backend prompt should embed the document")
	}
	if !strings.Contains(req.SystemPrompt, "writing assistant") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}

	after, _ := s.Get(th.ID)
	if after.Messages[0].Content != "Improve this" {
		t.Errorf("transcript holds %q, want the literal input", after.Messages[0].Content)
	}
}

func TestSendHistoryExcludesCurrentMessage(t *testing.T) {
	fb := &fakeBackend{fragments: []backend.Fragment{{Content: "r"}, {Done: true}}}
	e, _ := newTestEngine(fb)
	th := e.CreateThread("", "")

	e.Send(context.Background(), th.ID, "first", prompt.NoContext, nil)
	e.Send(context.Background(), th.ID, "second", prompt.NoContext, nil)

	if len(fb.requests) != 2 {
		t.Fatalf("got %d requests", len(fb.requests))
	}
	if len(fb.requests[0].History) != 0 {
		t.Errorf("first send history = %v, want empty", fb.requests[0].History)
	}
	// Second send sees the first exchange but not its own input.
	h := fb.requests[1].History
	if len(h) != 2 {
		t.Fatalf("second send history length = %d, want 2", len(h))
	}
	if h[0].Content != "first" || h[1].Content != "r" {
		t.Errorf("history = %v", h)
	}
}

func TestSendEmptyInput(t *testing.T) {
	e, _ := newTestEngine(&fakeBackend{})
	th := e.CreateThread("", "")

	if _, err := e.Send(context.Background(), th.ID, "", prompt.NoContext, nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestSendUnknownThread(t *testing.T) {
	e, _ := newTestEngine(&fakeBackend{})
	if _, err := e.Send(context.Background(), "thr_missing", "hi", prompt.NoContext, nil); !errors.Is(err, store.ErrThreadNotFound) {
		t.Errorf("err = %v, want ErrThreadNotFound", err)
	}
}

func TestSendStreamOpenFailureKeepsUserMessage(t *testing.T) {
	openErr := errors.New("connection refused")
	fb := &fakeBackend{openErr: openErr}

	var notices []Notice
	s := store.NewThreadStore()
	e := NewEngine(Deps{
		Store:        s,
		Local:        fb,
		DefaultModel: "m",
		Notice:       func(n Notice) { notices = append(notices, n) },
	})
	th := e.CreateThread("", "")

	_, err := e.Send(context.Background(), th.ID, "hello", prompt.NoContext, nil)
	if !errors.Is(err, openErr) {
		t.Fatalf("err = %v, want the open error", err)
	}

	after, _ := s.Get(th.ID)
	if after.MessageCount() != 1 || after.Messages[0].Role != model.RoleUser {
		t.Error("user message should survive a failed stream open")
	}
	if len(notices) != 1 {
		t.Errorf("got %d notices, want 1", len(notices))
	}
	if e.Assembler().IsActive(th.ID) {
		t.Error("generation slot should be released after a failed stream open")
	}
}

func TestSendStreamErrorProducesNotice(t *testing.T) {
	streamErr := errors.New("mid-stream failure")
	fb := &fakeBackend{fragments: []backend.Fragment{
		{Content: "par"},
		{Err: streamErr},
	}}

	var notices []Notice
	s := store.NewThreadStore()
	e := NewEngine(Deps{
		Store:        s,
		Local:        fb,
		DefaultModel: "m",
		Notice:       func(n Notice) { notices = append(notices, n) },
	})
	th := e.CreateThread("", "")

	result, err := e.Send(context.Background(), th.ID, "hello", prompt.NoContext, nil)
	if !errors.Is(err, streamErr) {
		t.Fatalf("err = %v, want stream error", err)
	}
	if result.Partial != "par" {
		t.Errorf("Partial = %q", result.Partial)
	}
	if len(notices) != 1 {
		t.Errorf("got %d notices, want 1", len(notices))
	}

	after, _ := s.Get(th.ID)
	if after.MessageCount() != 2 {
		t.Fatalf("MessageCount = %d, want 2", after.MessageCount())
	}
	if !strings.HasPrefix(after.Messages[1].Content, "Generation failed: ") {
		t.Errorf("error message = %q", after.Messages[1].Content)
	}
}

// =============================================================================
// AGENT ROUTING TESTS
// =============================================================================

func TestSendRoutesAgentThreads(t *testing.T) {
	fb := &fakeBackend{}
	e, s := newTestEngine(fb)
	agent := &fakeAgent{}
	e.RegisterAgent("researcher", agent)

	th := e.CreateAgentThread("researcher")
	result, err := e.Send(context.Background(), th.ID, "find sources", prompt.NoContext, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Message.Content != "agent reply" {
		t.Errorf("committed = %q", result.Message.Content)
	}
	if len(fb.requests) != 0 {
		t.Error("agent thread should not hit the local backend")
	}
	if len(agent.prompts) != 1 || agent.prompts[0] != "find sources" {
		t.Errorf("agent prompts = %v", agent.prompts)
	}

	after, _ := s.Get(th.ID)
	if after.Mode() != model.ModeAgent {
		t.Errorf("thread mode = %v", after.Mode())
	}
}

func TestSendUnregisteredAgent(t *testing.T) {
	e, _ := newTestEngine(&fakeBackend{})
	th := e.CreateAgentThread("ghost")

	if _, err := e.Send(context.Background(), th.ID, "hi", prompt.NoContext, nil); !errors.Is(err, ErrNoAgent) {
		t.Errorf("err = %v, want ErrNoAgent", err)
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestCreateThreadBindsModel(t *testing.T) {
	e, s := newTestEngine(&fakeBackend{})

	th := e.CreateThread("qwen2.5:7b", "local")
	got, err := s.Get(th.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ModelID != "qwen2.5:7b" || got.Mode() != model.ModeDirectModel {
		t.Errorf("binding = %q mode=%v", got.ModelID, got.Mode())
	}
}

func TestDeleteThread(t *testing.T) {
	e, s := newTestEngine(&fakeBackend{})
	th := e.CreateThread("", "")

	if err := e.DeleteThread(th.ID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, err := s.Get(th.ID); !errors.Is(err, store.ErrThreadNotFound) {
		t.Errorf("thread should be gone, got %v", err)
	}
}

// stallingBackend signals when ChatStream is entered and blocks until
// released, holding a send mid-flight.
type stallingBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (b *stallingBackend) ChatStream(ctx context.Context, req backend.ChatRequest) (<-chan backend.Fragment, error) {
	close(b.entered)
	<-b.release
	out := make(chan backend.Fragment, 2)
	out <- backend.Fragment{Content: "late reply"}
	out <- backend.Fragment{Done: true}
	close(out)
	return out, nil
}

func (b *stallingBackend) LoadModel(ctx context.Context, modelID string, progress backend.ProgressFunc) error {
	return nil
}
func (b *stallingBackend) Ready() bool         { return true }
func (b *stallingBackend) LoadedModel() string { return "stall-model" }
func (b *stallingBackend) Describe() string    { return "stall" }

func TestConcurrentSendLoserLeavesNoOrphanUserTurn(t *testing.T) {
	fb := &stallingBackend{entered: make(chan struct{}), release: make(chan struct{})}
	s := store.NewThreadStore()
	e := NewEngine(Deps{Store: s, Local: fb, DefaultModel: "m"})
	th := e.CreateThread("", "")

	done := make(chan struct{})
	go func() {
		e.Send(context.Background(), th.ID, "first", prompt.NoContext, nil)
		close(done)
	}()
	// The first send has appended its user turn and is stalled in the backend.
	<-fb.entered

	_, err := e.Send(context.Background(), th.ID, "second", prompt.NoContext, nil)
	if !errors.Is(err, assembler.ErrGenerationInProgress) {
		t.Fatalf("second Send = %v, want ErrGenerationInProgress", err)
	}

	// The loser must not have committed its user message.
	mid, _ := s.Get(th.ID)
	if mid.MessageCount() != 1 {
		t.Fatalf("MessageCount mid-flight = %d, want 1 (winner's user turn only)", mid.MessageCount())
	}
	if mid.Messages[0].Content != "first" {
		t.Errorf("mid-flight message = %q, want the winner's input", mid.Messages[0].Content)
	}

	close(fb.release)
	<-done

	after, _ := s.Get(th.ID)
	if after.MessageCount() != 2 {
		t.Fatalf("final MessageCount = %d, want 2", after.MessageCount())
	}
	if after.Messages[1].Content != "late reply" {
		t.Errorf("final assistant turn = %q", after.Messages[1].Content)
	}
	if e.Assembler().IsActive(th.ID) {
		t.Error("generation slot should be free after the winner completes")
	}
}

func TestSendWhileActive(t *testing.T) {
	// Manually mark the thread active through a blocked assembly, then
	// verify Send fails fast instead of queuing.
	fb := &fakeBackend{}
	e, _ := newTestEngine(fb)
	th := e.CreateThread("", "")

	blocked := make(chan backend.Fragment)
	done := make(chan struct{})
	go func() {
		e.Assembler().Assemble(context.Background(), th.ID, blocked, nil)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !e.Assembler().IsActive(th.ID) {
		if time.Now().After(deadline) {
			t.Fatal("assembly never became active")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := e.Send(context.Background(), th.ID, "hi", prompt.NoContext, nil); !errors.Is(err, assembler.ErrGenerationInProgress) {
		t.Errorf("err = %v, want ErrGenerationInProgress", err)
	}

	close(blocked)
	<-done
}
