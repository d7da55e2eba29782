// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assembler turns a streamed fragment sequence into one committed
// assistant message.
package assembler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/envoyhq/envoy-core/internal/backend"
	"github.com/envoyhq/envoy-core/internal/model"
	"github.com/envoyhq/envoy-core/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGenerationInProgress is returned when Assemble is called for a
	// thread that already has an active generation. One generation per
	// thread, enforced here rather than by caller discipline.
	ErrGenerationInProgress = errors.New("generation already in progress for thread")
)

// =============================================================================
// RESULT TYPE
// =============================================================================

// Result describes the outcome of one assembled generation.
type Result struct {
	// GenerationID correlates this run across logs and callbacks.
	GenerationID string

	// Message is the committed assistant message, nil when nothing was
	// committed (empty stream or cancellation).
	Message *model.Message

	// Empty is true when the stream completed with zero content. No message
	// is committed in that case; callers decide whether to surface it.
	Empty bool

	// Cancelled is true when the caller's context ended the run. The buffer
	// is discarded and no message is committed.
	Cancelled bool

	// Partial holds accumulated text up to a mid-stream failure. It is never
	// part of the committed message content, but is preserved here rather
	// than thrown away.
	Partial string

	// Stats are the backend-reported statistics, when available.
	Stats *backend.Stats

	// Elapsed is the wall time of the whole run.
	Elapsed time.Duration
}

// FragmentFunc observes each content fragment as it is applied.
// delta is the new fragment, total is the accumulated text so far.
type FragmentFunc func(delta, total string)

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler consumes fragment streams and commits finished messages to the
// thread store. It owns the per-thread generation locks: at most one stream
// may be assembling into a given thread at a time, while distinct threads
// assemble concurrently.
type Assembler struct {
	store  *store.ThreadStore
	active *activeSet
}

// New creates an assembler committing into the given store.
func New(s *store.ThreadStore) *Assembler {
	return &Assembler{
		store:  s,
		active: newActiveSet(),
	}
}

// IsActive reports whether a generation is currently running for the thread.
func (a *Assembler) IsActive(threadID string) bool {
	return a.active.contains(threadID)
}

// ActiveCount returns the number of threads with a running generation.
func (a *Assembler) ActiveCount() int {
	return a.active.count()
}

// Reserve claims the thread's generation slot ahead of assembly, so callers
// can do pre-stream work (append the user turn, open the backend stream)
// knowing no competing generation can slip in between. The claim is released
// by AssembleReserved, or by Release on paths that never reach it.
func (a *Assembler) Reserve(threadID string) error {
	if !a.active.tryAdd(threadID) {
		return ErrGenerationInProgress
	}
	return nil
}

// Release frees a reservation that will not be assembled.
func (a *Assembler) Release(threadID string) {
	a.active.remove(threadID)
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// Assemble consumes fragments in delivery order and commits the outcome.
//
// Preconditions: the thread must exist, and the caller must already have
// appended the user's own message so ordering in the transcript is user
// first, assistant second.
//
// Blocks until the stream ends, fails, or ctx is cancelled. Exactly one
// assistant message is committed on completion-with-content and on error;
// none on empty completion or cancellation.
func (a *Assembler) Assemble(ctx context.Context, threadID string, fragments <-chan backend.Fragment, onFragment FragmentFunc) (*Result, error) {
	if _, err := a.store.Get(threadID); err != nil {
		return nil, err
	}
	if err := a.Reserve(threadID); err != nil {
		return nil, err
	}
	return a.AssembleReserved(ctx, threadID, fragments, onFragment)
}

// AssembleReserved is Assemble for a thread whose generation slot the caller
// already holds via Reserve. The slot is released when it returns.
func (a *Assembler) AssembleReserved(ctx context.Context, threadID string, fragments <-chan backend.Fragment, onFragment FragmentFunc) (*Result, error) {
	defer a.Release(threadID)

	result := &Result{GenerationID: uuid.NewString()}
	start := time.Now()

	// The transient buffer lives here and only here. Nothing observes it
	// except through the fragment callback until commit.
	var buf strings.Builder

	for {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Elapsed = time.Since(start)
			return result, ctx.Err()

		case frag, ok := <-fragments:
			if !ok {
				// Producer closed without an explicit Done fragment.
				return a.finish(threadID, &buf, result, start)
			}

			if frag.Err != nil {
				return a.fail(threadID, &buf, result, start, frag.Err)
			}

			if frag.Content != "" {
				buf.WriteString(frag.Content)
				if onFragment != nil {
					onFragment(frag.Content, buf.String())
				}
			}

			if frag.Done {
				if frag.Stats != nil {
					result.Stats = frag.Stats
				}
				return a.finish(threadID, &buf, result, start)
			}
		}
	}
}

// finish commits the accumulated buffer on normal completion.
func (a *Assembler) finish(threadID string, buf *strings.Builder, result *Result, start time.Time) (*Result, error) {
	result.Elapsed = time.Since(start)

	if buf.Len() == 0 {
		result.Empty = true
		return result, nil
	}

	msg := model.NewAssistantMessage(buf.String(), statsToModel(result.Stats))
	if err := a.store.Append(threadID, msg); err != nil {
		return result, err
	}
	result.Message = msg
	return result, nil
}

// fail commits a synthetic assistant message describing the error. Partial
// text is kept on the result but never enters the transcript.
func (a *Assembler) fail(threadID string, buf *strings.Builder, result *Result, start time.Time, streamErr error) (*Result, error) {
	result.Elapsed = time.Since(start)
	result.Partial = buf.String()

	msg := model.NewAssistantMessage("Generation failed: "+streamErr.Error(), nil)
	if err := a.store.Append(threadID, msg); err != nil {
		return result, err
	}
	result.Message = msg
	return result, streamErr
}

// statsToModel converts backend stats into message metadata.
func statsToModel(s *backend.Stats) *model.GenerationStats {
	if s == nil {
		return nil
	}
	return &model.GenerationStats{
		Model:            s.Model,
		Provider:         s.Provider,
		TokensGenerated:  s.TokensGenerated,
		TotalDuration:    s.TotalDuration,
		TimeToFirstToken: s.TimeToFirstToken,
		TokensPerSecond:  s.TokensPerSecond,
	}
}
