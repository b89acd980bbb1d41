// Package store persists walkthrough state and chat history under the
// workspace directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSlot is a single named JSON document on disk. Saves are atomic
// (write to a temp file, then rename) so a crash mid-write never leaves
// a half-written slot behind.
type FileSlot struct {
	path string
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

func (s *FileSlot) Path() string { return s.path }

// Save marshals v and replaces the slot contents.
func (s *FileSlot) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create slot directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write slot %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace slot %s: %w", s.path, err)
	}
	return nil
}

// Load unmarshals the slot into out. A missing slot returns (false, nil);
// a present-but-unreadable slot returns (false, err).
func (s *FileSlot) Load(out any) (bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read slot %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode slot %s: %w", s.path, err)
	}
	return true, nil
}

// Delete removes the slot. Deleting an absent slot is not an error.
func (s *FileSlot) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete slot %s: %w", s.path, err)
	}
	return nil
}
