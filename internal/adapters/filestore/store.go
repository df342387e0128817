// Package filestore provides a single-file JSON ports.KeyValueStore for
// desktop and CLI use.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Store keeps every key in one JSON object on disk. Writes replace the file
// atomically via rename.
type Store struct {
	path   string
	prefix string

	mu sync.Mutex
}

var _ ports.KeyValueStore = (*Store)(nil)

// New returns a Store at path. A leading "~/" expands to the user's home directory.
func New(path, prefix string) (*Store, error) {
	p, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, errors.New("file store path is required")
	}
	return &Store{path: p, prefix: prefix}, nil
}

// Path returns the resolved file location.
func (s *Store) Path() string { return s.path }

// Get returns the stored value, or a NotFound AppError when absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Classify(err, "read session file")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := data[s.prefix+key]
	if !ok {
		return "", apperrors.NotFound(fmt.Sprintf("key %q not found", key))
	}
	return v, nil
}

// Set writes value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Classify(err, "write session file")
	}
	if key == "" {
		return apperrors.ValidationField("key", "key cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[s.prefix+key] = value
	return s.save(data)
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Classify(err, "write session file")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[s.prefix+key]; !ok {
		return nil
	}
	delete(data, s.prefix+key)
	return s.save(data)
}

func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "read session file")
	}
	data := map[string]string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "session file is corrupt")
	}
	return data, nil
}

func (s *Store) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode session file")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "create session directory")
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "create temp session file")
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return apperrors.Wrap(cause, apperrors.ErrCodeInternal, "write session file")
	}
	if err := tmp.Chmod(fileMode); err != nil {
		return cleanup(err)
	}
	if _, err := tmp.Write(raw); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "write session file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "replace session file")
	}
	return nil
}

func expandHome(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
