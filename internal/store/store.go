// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store owns the authoritative collection of threads.
package store

import (
	"errors"
	"sync"

	"github.com/envoyhq/envoy-core/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrThreadNotFound is returned when an operation references an unknown
	// thread ID.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrEmptyTitle is returned when a rename is attempted with an empty title.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrDuplicateThread is returned when adding a thread whose ID already
	// exists in the store.
	ErrDuplicateThread = errors.New("thread already exists")
)

// =============================================================================
// FLAGS
// =============================================================================

// Flag identifies a toggleable thread flag.
type Flag int

const (
	FlagPinned Flag = iota
	FlagStarred
	FlagArchived
)

// String returns the flag name.
func (f Flag) String() string {
	switch f {
	case FlagPinned:
		return "pinned"
	case FlagStarred:
		return "starred"
	case FlagArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// =============================================================================
// THREAD STORE
// =============================================================================

// ThreadStore holds the authoritative, ordered collection of threads.
//
// All access goes through the store's lock: the single-threaded-mutation
// assumption the UI layer used to provide does not exist here, so background
// persistence and concurrent generations are safe.
type ThreadStore struct {
	mu sync.RWMutex

	// threads maps ID to thread; order preserves insertion order.
	threads map[string]*model.Thread
	order   []string

	// selected is the currently-selected thread ID ("" = none).
	selected string
}

// NewThreadStore creates an empty thread store.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{
		threads: make(map[string]*model.Thread),
	}
}

// =============================================================================
// THREAD LIFECYCLE
// =============================================================================

// Create makes a new unbound thread, adds it to the store, and returns a
// clone of it.
func (s *ThreadStore) Create() *model.Thread {
	t := model.NewThread()
	s.mu.Lock()
	s.insertLocked(t)
	s.mu.Unlock()
	return t.Clone()
}

// Add inserts an existing thread (e.g. hydrated from storage).
func (s *ThreadStore) Add(t *model.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[t.ID]; ok {
		return ErrDuplicateThread
	}
	s.insertLocked(t.Clone())
	return nil
}

// insertLocked stores the thread. Caller must hold the write lock.
func (s *ThreadStore) insertLocked(t *model.Thread) {
	s.threads[t.ID] = t
	s.order = append(s.order, t.ID)
}

// Get returns a clone of the thread, or ErrThreadNotFound.
func (s *ThreadStore) Get(id string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return t.Clone(), nil
}

// Remove deletes a thread. Removing the selected thread clears the selection.
func (s *ThreadStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, id)
	for i, tid := range s.order {
		if tid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.selected == id {
		s.selected = ""
	}
	return nil
}

// Count returns the number of threads in the store.
func (s *ThreadStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// =============================================================================
// MUTATION OPERATIONS
// =============================================================================

// Append adds a message to a thread.
func (s *ThreadStore) Append(threadID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	t.AddMessage(msg)
	return nil
}

// Rename sets a thread's title. Empty titles are rejected.
func (s *ThreadStore) Rename(threadID, newTitle string) error {
	if newTitle == "" {
		return ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	t.SetTitle(newTitle)
	return nil
}

// ToggleFlag flips one of the thread flags and returns the new value.
// Archiving the selected thread clears the selection.
func (s *ThreadStore) ToggleFlag(threadID string, flag Flag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return false, ErrThreadNotFound
	}

	var value bool
	switch flag {
	case FlagPinned:
		t.Pinned = !t.Pinned
		value = t.Pinned
	case FlagStarred:
		t.Starred = !t.Starred
		value = t.Starred
	case FlagArchived:
		t.Archived = !t.Archived
		value = t.Archived
		if t.Archived && s.selected == threadID {
			s.selected = ""
		}
	}
	return value, nil
}

// BindModel rebinds a thread to a model/provider pair.
func (s *ThreadStore) BindModel(threadID, modelID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	t.BindModel(modelID, providerID)
	return nil
}

// BindAgent rebinds a thread to a named agent.
func (s *ThreadStore) BindAgent(threadID, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	t.BindAgent(agentName)
	return nil
}

// =============================================================================
// SELECTION
// =============================================================================

// Select marks a thread as the current selection.
func (s *ThreadStore) Select(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	s.selected = threadID
	return nil
}

// Selected returns the currently-selected thread ID ("" = none).
func (s *ThreadStore) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// ClearSelection drops the current selection.
func (s *ThreadStore) ClearSelection() {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
}
