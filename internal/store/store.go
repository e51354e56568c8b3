// Package store persists session snapshots as one JSON file per session under
// a single directory. Writes are atomic and serialized so a crash never leaves
// a torn snapshot behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrBadID is returned for identifiers that could escape the storage
// directory or collide with temp files.
var ErrBadID = errors.New("store: invalid snapshot id")

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Store is a directory of {id}.json snapshots.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// Open ensures the directory exists and returns a store over it.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save writes v as {id}.json via a temp file and rename.
func (s *Store) Save(id string, v any) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrBadID, id)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := filepath.Join(s.dir, id+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", id, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: commit %s: %w", id, err)
	}
	return nil
}

// LoadAll reads every snapshot in the directory. Unreadable or malformed
// files are logged and skipped; they never abort startup.
func (s *Store) LoadAll() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.dir, err)
	}

	out := make(map[string]json.RawMessage)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if !validID.MatchString(id) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", zap.String("file", name), zap.Error(err))
			continue
		}
		if !json.Valid(data) {
			s.logger.Warn("skipping malformed snapshot", zap.String("file", name))
			continue
		}
		out[id] = json.RawMessage(data)
	}
	return out, nil
}

// Delete removes the snapshot for id. Deleting a missing snapshot is not an
// error.
func (s *Store) Delete(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrBadID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, id+".json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}
