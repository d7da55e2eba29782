// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// DATE GROUP TYPE
// =============================================================================

// DateGroup is a derived temporal bucket used only for display grouping.
// It is computed from a thread's UpdatedAt against a supplied "now" and is
// never stored.
type DateGroup int

const (
	GroupToday DateGroup = iota
	GroupYesterday
	GroupThisWeek
	GroupLastWeek
	GroupThisMonth
	GroupOlder
)

// DateGroupOrder is the fixed emission order for grouped listings.
var DateGroupOrder = []DateGroup{
	GroupToday,
	GroupYesterday,
	GroupThisWeek,
	GroupLastWeek,
	GroupThisMonth,
	GroupOlder,
}

// String returns a display label for the group.
func (g DateGroup) String() string {
	switch g {
	case GroupToday:
		return "Today"
	case GroupYesterday:
		return "Yesterday"
	case GroupThisWeek:
		return "This Week"
	case GroupLastWeek:
		return "Last Week"
	case GroupThisMonth:
		return "This Month"
	default:
		return "Older"
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// DateGroupFrom classifies t relative to now. The clock is passed in rather
// than read here so listings are deterministic under test.
//
// Buckets are checked most-specific first: a timestamp from earlier today is
// "today" even though it also falls inside the current week and month.
func DateGroupFrom(t, now time.Time) DateGroup {
	t = t.In(now.Location())

	dayStart := startOfDay(now)
	if !t.Before(dayStart) {
		return GroupToday
	}
	if !t.Before(dayStart.AddDate(0, 0, -1)) {
		return GroupYesterday
	}

	weekStart := startOfWeek(now)
	if !t.Before(weekStart) {
		return GroupThisWeek
	}
	if !t.Before(weekStart.AddDate(0, 0, -7)) {
		return GroupLastWeek
	}

	if t.Year() == now.Year() && t.Month() == now.Month() {
		return GroupThisMonth
	}
	return GroupOlder
}

// startOfDay returns midnight of the day containing t.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns midnight of the Monday of the week containing t.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	// time.Weekday numbers Sunday as 0; shift so Monday starts the week.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
