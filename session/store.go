// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists conversation records as a single JSON file. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// truncated state file. The Manager serializes all Save calls under
// its own lock; the Store itself is not concurrency-safe.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the state file. A missing file is a normal first run and
// yields an empty map. A corrupt file is logged and also yields an
// empty map: losing saved session ids costs resumption, not
// correctness, and must never block startup.
func (s *Store) Load() map[string]Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, starting empty",
				"path", s.path, "error", err)
		}
		return make(map[string]Record)
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("state file corrupt, starting empty",
			"path", s.path, "error", err)
		return make(map[string]Record)
	}
	return records
}

// Save writes the full record set atomically.
func (s *Store) Save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session records: %w", err)
	}

	directory := filepath.Dir(s.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	temp, err := os.CreateTemp(directory, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
