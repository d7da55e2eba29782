// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads and messages.
//
// # Key Types
//
//   - Thread: a named, ordered conversation container with flags and an
//     optional model/provider or agent binding
//   - Message: a single committed user or assistant turn, immutable once
//     created
//   - DateGroup: derived temporal bucket for display grouping
//   - GenerationStats: backend-reported timing and token statistics
//
// Threads are append-only: the only state that ever changes on a committed
// message is nothing at all. Streaming accumulation happens in the assembler
// package and results in exactly one committed Message per generation.
package model
