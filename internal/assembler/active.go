// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import "sync"

// activeSet tracks which threads currently have a running generation.
// The check-and-set is atomic: two concurrent sends to one thread cannot
// both claim it.
type activeSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newActiveSet() *activeSet {
	return &activeSet{ids: make(map[string]struct{})}
}

// tryAdd claims the thread. Returns false if a generation is already active.
func (s *activeSet) tryAdd(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[threadID]; ok {
		return false
	}
	s.ids[threadID] = struct{}{}
	return true
}

func (s *activeSet) remove(threadID string) {
	s.mu.Lock()
	delete(s.ids, threadID)
	s.mu.Unlock()
}

func (s *activeSet) contains(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[threadID]
	return ok
}

func (s *activeSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
