// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"strings"
	"time"

	"github.com/envoyhq/envoy-core/internal/model"
)

// =============================================================================
// LIST FILTERS
// =============================================================================

// Filter selects the listing category.
type Filter int

const (
	// FilterAll keeps every non-archived thread.
	FilterAll Filter = iota
	// FilterAgents keeps non-archived threads bound to a model or agent.
	FilterAgents
	// FilterStarred keeps non-archived starred threads.
	FilterStarred
	// FilterArchived keeps only archived threads.
	FilterArchived
)

// String returns the filter name.
func (f Filter) String() string {
	switch f {
	case FilterAgents:
		return "agents"
	case FilterStarred:
		return "starred"
	case FilterArchived:
		return "archived"
	default:
		return "all"
	}
}

// ListOptions controls List filtering and grouping.
type ListOptions struct {
	// Filter is the listing category (default: FilterAll).
	Filter Filter

	// AgentName, when non-empty, keeps only threads bound to that agent.
	AgentName string

	// Search, when non-empty, keeps only threads whose title or message
	// content contains it case-insensitively.
	Search string

	// Now anchors date grouping. Zero means time.Now(); tests pin it.
	Now time.Time
}

// =============================================================================
// LIST RESULT
// =============================================================================

// Group is one date bucket of a listing.
type Group struct {
	Bucket  model.DateGroup
	Threads []*model.Thread
}

// Listing is the ordered result of a List call: pinned threads surface as a
// separate leading section, the rest are bucketed by date group in fixed
// order with empty buckets dropped.
type Listing struct {
	Pinned []*model.Thread
	Groups []Group
}

// Threads flattens the listing back into a single ordered slice.
func (l *Listing) Threads() []*model.Thread {
	var out []*model.Thread
	out = append(out, l.Pinned...)
	for _, g := range l.Groups {
		out = append(out, g.Threads...)
	}
	return out
}

// Total returns the number of threads in the listing.
func (l *Listing) Total() int {
	n := len(l.Pinned)
	for _, g := range l.Groups {
		n += len(g.Threads)
	}
	return n
}

// =============================================================================
// LIST OPERATION
// =============================================================================

// List returns the filtered, grouped view of the store.
//
// Filtering is applied in fixed order: reserved-container exclusion, agent
// filter, category filter, then search. Within a bucket relative insertion
// order is preserved; no further sort is applied.
func (s *ThreadStore) List(opts ListOptions) *Listing {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	needle := strings.ToLower(opts.Search)

	s.mu.RLock()
	var matched []*model.Thread
	for _, id := range s.order {
		t := s.threads[id]
		if !matches(t, opts, needle) {
			continue
		}
		matched = append(matched, t.Clone())
	}
	s.mu.RUnlock()

	listing := &Listing{}
	buckets := make(map[model.DateGroup][]*model.Thread)
	for _, t := range matched {
		if t.Pinned {
			listing.Pinned = append(listing.Pinned, t)
			continue
		}
		g := model.DateGroupFrom(t.UpdatedAt, now)
		buckets[g] = append(buckets[g], t)
	}

	for _, g := range model.DateGroupOrder {
		if threads := buckets[g]; len(threads) > 0 {
			listing.Groups = append(listing.Groups, Group{Bucket: g, Threads: threads})
		}
	}
	return listing
}

// matches applies the fixed filter order to one thread.
func matches(t *model.Thread, opts ListOptions, lowerNeedle string) bool {
	// 1. The reserved about-me container never appears in general views.
	if t.Container == model.ContainerAboutMe {
		return false
	}

	// 2. Agent-name filter.
	if opts.AgentName != "" && t.AgentName != opts.AgentName {
		return false
	}

	// 3. Category filter.
	switch opts.Filter {
	case FilterAll:
		if t.Archived {
			return false
		}
	case FilterAgents:
		if t.Archived || t.Mode() == model.ModeNone {
			return false
		}
	case FilterStarred:
		if t.Archived || !t.Starred {
			return false
		}
	case FilterArchived:
		if !t.Archived {
			return false
		}
	}

	// 4. Search over title and message content.
	if lowerNeedle != "" && !t.ContainsText(lowerNeedle) {
		return false
	}
	return true
}
