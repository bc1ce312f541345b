package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore serves configuration records from a single JSON object file
// mapping keys to records. The file is parsed on open and on Reload; lookups
// between reloads are served from the in-memory snapshot.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records map[string]json.RawMessage
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty servers file path")
	}

	s := &FileStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-parses the backing file and atomically swaps the snapshot. On
// parse failure the previous snapshot stays in effect.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read servers file %q: %w", s.path, err)
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse servers file %q: %w", s.path, err)
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

// Path returns the backing file path for reload watchers.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), raw...), true, nil
}

// Put writes the record back to the underlying file so externally edited and
// tool-written files stay in sync, then reloads the snapshot.
func (s *FileStore) Put(_ context.Context, key string, config json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[string]json.RawMessage)
	}
	s.records[key] = append(json.RawMessage(nil), config...)

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

func (s *FileStore) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	keepTemp := false
	defer func() {
		_ = tmp.Close()
		if !keepTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	keepTemp = true
	return nil
}
