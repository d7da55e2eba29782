// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"time"

	"github.com/envoyhq/envoy-core/internal/model"
	"github.com/envoyhq/envoy-core/internal/util"
)

// =============================================================================
// JSON SNAPSHOT EXPORT
// =============================================================================

// Snapshot is a point-in-time JSON export of every thread.
type Snapshot struct {
	ExportedAt time.Time       `json:"exported_at"`
	Threads    []*model.Thread `json:"threads"`
}

// ExportSnapshot writes all threads to path as indented JSON. The write is
// atomic so a crash mid-export cannot leave a torn file behind.
func ExportSnapshot(path string, threads []*model.Thread) error {
	snap := Snapshot{
		ExportedAt: time.Now(),
		Threads:    threads,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0o644)
}

// ImportSnapshot reads a snapshot file back.
func ImportSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
