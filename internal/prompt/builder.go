// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds the outbound prompt and system prompt from user input
// and the active workspace context.
package prompt

import "strings"

// =============================================================================
// CONTEXT KINDS
// =============================================================================

// Kind tags the active workspace context.
type Kind int

const (
	KindNone Kind = iota
	KindDocument
	KindThread
	KindTaskList
	KindReviewQueue
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindThread:
		return "thread"
	case KindTaskList:
		return "task-list"
	case KindReviewQueue:
		return "review-queue"
	default:
		return "none"
	}
}

// Context describes what the user is looking at when they send a message.
type Context struct {
	Kind Kind

	// DocumentContent is the active document's content (KindDocument only).
	DocumentContent string

	// ThreadRef references the active thread (KindThread only).
	ThreadRef string
}

// NoContext is the empty context.
var NoContext = Context{Kind: KindNone}

// DocumentContext returns a document context with the given content.
func DocumentContext(content string) Context {
	return Context{Kind: KindDocument, DocumentContent: content}
}

// ThreadContext returns a thread context referencing the given thread.
func ThreadContext(ref string) Context {
	return Context{Kind: KindThread, ThreadRef: ref}
}

// TaskListContext returns the task-list context.
func TaskListContext() Context {
	return Context{Kind: KindTaskList}
}

// ReviewQueueContext returns the review-queue context.
func ReviewQueueContext() Context {
	return Context{Kind: KindReviewQueue}
}

// =============================================================================
// TEMPLATES
// =============================================================================

// MaxDocumentChars is the hard cutoff for embedded document content.
// The cut is exact, not word- or sentence-aware.
const MaxDocumentChars = 2000

// baseInstruction is always the first part of the system prompt.
const baseInstruction = "You are Envoy, a helpful assistant running inside the user's workspace. " +
	"Be concise and direct. Answer using the provided context when it is relevant."

// contextClauses maps each context kind to its system-prompt clause. Kinds
// absent from the map get the base instruction alone.
var contextClauses = map[Kind]string{
	KindDocument:    "You are acting as a writing assistant. Help the user draft, edit, and improve the document they are working on.",
	KindTaskList:    "You are acting as a task management assistant. Help the user organize, prioritize, and plan their tasks.",
	KindReviewQueue: "You are acting as a decision analysis assistant. Help the user evaluate items awaiting review and reach clear decisions.",
}

// documentPreamble opens the rewritten prompt when document content is present.
const documentPreamble = "The user is working on the following document:\n\n"

// documentRequest separates the embedded document from the literal request.
const documentRequest = "\n\nUser request: "

// =============================================================================
// BUILDER
// =============================================================================

// Build constructs the outbound prompt and system prompt.
//
// Build is pure and deterministic: same inputs, same outputs, no I/O. Only a
// document context with non-empty content rewrites the prompt; every other
// kind passes the user input through unchanged.
func Build(userInput string, ctx Context) (prompt, systemPrompt string) {
	return buildPrompt(userInput, ctx), buildSystemPrompt(ctx)
}

// buildPrompt rewrites the prompt for document contexts, embedding at most
// MaxDocumentChars characters of the document before the literal request.
func buildPrompt(userInput string, ctx Context) string {
	if ctx.Kind != KindDocument || ctx.DocumentContent == "" {
		return userInput
	}

	snippet := ctx.DocumentContent
	if runes := []rune(snippet); len(runes) > MaxDocumentChars {
		snippet = string(runes[:MaxDocumentChars])
	}

	var sb strings.Builder
	sb.Grow(len(documentPreamble) + len(snippet) + len(documentRequest) + len(userInput))
	sb.WriteString(documentPreamble)
	sb.WriteString(snippet)
	sb.WriteString(documentRequest)
	sb.WriteString(userInput)
	return sb.String()
}

// buildSystemPrompt combines the base instruction with the kind's clause.
func buildSystemPrompt(ctx Context) string {
	clause, ok := contextClauses[ctx.Kind]
	if !ok {
		return baseInstruction
	}
	return baseInstruction + " " + clause
}
