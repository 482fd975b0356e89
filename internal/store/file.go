package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Compile-time interface check.
var _ KV = (*FileKV)(nil)

// FileKV keeps every entry in memory and, when it has a file path, rewrites
// the whole set as one JSON document after each change.
type FileKV struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	filePath string
	log      *slog.Logger
}

// NewFileKV creates a FileKV, loading persisted entries from filePath. A
// missing file starts empty; an unreadable one is an error so it is never
// silently overwritten.
func NewFileKV(filePath string, log *slog.Logger) (*FileKV, error) {
	s := &FileKV{
		entries:  make(map[string][]byte),
		filePath: filePath,
		log:      log,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryKV creates a FileKV that is never persisted.
func NewMemoryKV() *FileKV {
	return &FileKV{entries: make(map[string][]byte)}
}

// Get implements KV.
func (s *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set implements KV.
func (s *FileKV) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[key]
	s.entries[key] = v
	if err := s.flush(); err != nil {
		if had {
			s.entries[key] = prev
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

// Delete implements KV.
func (s *FileKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[key]
	if !had {
		return nil
	}
	delete(s.entries, key)
	if err := s.flush(); err != nil {
		s.entries[key] = prev
		return err
	}
	return nil
}

// Keys implements KV.
func (s *FileKV) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads the JSON file into memory.
func (s *FileKV) load() error {
	if s.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.filePath, err)
	}
	var loaded map[string][]byte
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("decoding %s: %w", s.filePath, err)
	}
	if loaded != nil {
		s.entries = loaded
	}
	if s.log != nil {
		s.log.Info("loaded kv file", "path", s.filePath, "keys", len(s.entries))
	}
	return nil
}

// flush writes the in-memory state to disk. Must be called with mu held.
func (s *FileKV) flush() error {
	if s.filePath == "" {
		return nil
	}
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encoding kv file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("creating kv dir: %w", err)
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing kv file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("replacing kv file: %w", err)
	}
	return nil
}
