// Package state persists a small observability snapshot of the supervisor.
// The file exists purely for external tooling; it is never read back to
// reconstruct supervisor state after a restart.
package state

import (
	"encoding/json"
	"fmt"
	"os"
)

// Snapshot is the externally visible supervisor state.
type Snapshot struct {
	Running   bool `json:"bot_running"`
	Throttled bool `json:"throttled"`
}

// Store writes snapshots to a JSON file.
type Store struct {
	path string
}

// NewStore creates a store writing to the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Persist writes the snapshot atomically (temp file + rename) so external
// readers never observe a partial file.
func (s *Store) Persist(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load reads the last persisted snapshot, for status display only. A missing
// file yields the zero snapshot.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("failed to read state file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return snap, nil
}
