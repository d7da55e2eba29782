// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"testing"

	"github.com/envoyhq/envoy-core/internal/model"
)

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestCreateAndGet(t *testing.T) {
	s := NewThreadStore()

	created := s.Create()
	if s.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.Count())
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("Get returned ID %q, want %q", got.ID, created.ID)
	}

	// Get returns a clone; mutations must not leak back.
	got.Title = "mutated"
	again, _ := s.Get(created.ID)
	if again.Title == "mutated" {
		t.Error("Get should return a clone, not the stored thread")
	}
}

func TestGetUnknownThread(t *testing.T) {
	s := NewThreadStore()
	if _, err := s.Get("thr_missing"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Get unknown = %v, want ErrThreadNotFound", err)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := NewThreadStore()
	th := model.NewThread()

	if err := s.Add(th); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(th); !errors.Is(err, ErrDuplicateThread) {
		t.Errorf("second Add = %v, want ErrDuplicateThread", err)
	}
}

func TestRemove(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()

	if err := s.Remove(created.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count after Remove = %d, want 0", s.Count())
	}
	if err := s.Remove(created.ID); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Remove twice = %v, want ErrThreadNotFound", err)
	}
}

// =============================================================================
// MUTATION TESTS
// =============================================================================

func TestAppendIsVisibleOnGet(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()

	if err := s.Append(created.ID, model.NewUserMessage("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, _ := s.Get(created.ID)
	if got.MessageCount() != 1 {
		t.Fatalf("MessageCount = %d, want 1", got.MessageCount())
	}
	if got.LastMessage().Content != "hello" {
		t.Errorf("appended message content = %q", got.LastMessage().Content)
	}

	if err := s.Append("thr_missing", model.NewUserMessage("x")); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Append to unknown = %v, want ErrThreadNotFound", err)
	}
}

func TestRename(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()

	if err := s.Rename(created.ID, "Project Notes"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _ := s.Get(created.ID)
	if got.Title != "Project Notes" {
		t.Errorf("Title = %q, want %q", got.Title, "Project Notes")
	}

	if err := s.Rename(created.ID, ""); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("Rename empty = %v, want ErrEmptyTitle", err)
	}
	if err := s.Rename("thr_missing", "x"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Rename unknown = %v, want ErrThreadNotFound", err)
	}
}

func TestToggleFlagRoundTrips(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()

	for _, flag := range []Flag{FlagPinned, FlagStarred, FlagArchived} {
		on, err := s.ToggleFlag(created.ID, flag)
		if err != nil {
			t.Fatalf("ToggleFlag(%s): %v", flag, err)
		}
		if !on {
			t.Errorf("first toggle of %s = false, want true", flag)
		}

		off, err := s.ToggleFlag(created.ID, flag)
		if err != nil {
			t.Fatalf("ToggleFlag(%s): %v", flag, err)
		}
		if off {
			t.Errorf("second toggle of %s = true, want false", flag)
		}
	}

	if _, err := s.ToggleFlag("thr_missing", FlagPinned); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("ToggleFlag unknown = %v, want ErrThreadNotFound", err)
	}
}

func TestBindModelAndAgent(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()

	if err := s.BindModel(created.ID, "llama3.2:3b", "local"); err != nil {
		t.Fatalf("BindModel: %v", err)
	}
	got, _ := s.Get(created.ID)
	if got.Mode() != model.ModeDirectModel {
		t.Errorf("Mode = %v, want ModeDirectModel", got.Mode())
	}

	if err := s.BindAgent(created.ID, "researcher"); err != nil {
		t.Fatalf("BindAgent: %v", err)
	}
	got, _ = s.Get(created.ID)
	if got.Mode() != model.ModeAgent || got.AgentName != "researcher" {
		t.Errorf("after BindAgent: mode=%v agent=%q", got.Mode(), got.AgentName)
	}
	if got.ModelID != "" {
		t.Error("BindAgent should clear model binding")
	}
}

// =============================================================================
// SELECTION TESTS
// =============================================================================

func TestSelection(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()

	if err := s.Select(created.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Selected() != created.ID {
		t.Errorf("Selected = %q, want %q", s.Selected(), created.ID)
	}

	if err := s.Select("thr_missing"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Select unknown = %v, want ErrThreadNotFound", err)
	}

	s.ClearSelection()
	if s.Selected() != "" {
		t.Errorf("Selected after clear = %q, want empty", s.Selected())
	}
}

func TestRemoveClearsSelection(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()
	s.Select(created.ID)

	if err := s.Remove(created.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Selected() != "" {
		t.Errorf("selection should clear when selected thread is removed, got %q", s.Selected())
	}
}

func TestArchiveClearsSelection(t *testing.T) {
	s := NewThreadStore()
	created := s.Create()
	s.Select(created.ID)

	if _, err := s.ToggleFlag(created.ID, FlagArchived); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}
	if s.Selected() != "" {
		t.Errorf("selection should clear when selected thread is archived, got %q", s.Selected())
	}

	// Unarchiving does not restore the selection.
	if _, err := s.ToggleFlag(created.ID, FlagArchived); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}
	if s.Selected() != "" {
		t.Error("unarchiving should not restore the selection")
	}
}
