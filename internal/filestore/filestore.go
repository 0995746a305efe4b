// Package filestore persists small named values as one file per key in a
// private directory. It backs the api_key and system_prompt settings and the
// error records written when an engine call fails.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	KeyAPIKey       = "api_key"
	KeySystemPrompt = "system_prompt"
)

// ErrInvalidKey is returned for keys that are empty or would escape the
// storage directory.
var ErrInvalidKey = errors.New("filestore: invalid key")

// Store reads and writes files under a single directory.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New returns a Store rooted at dir. The directory is created lazily with
// 0700 permissions on the first write.
func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}

// Load returns the value stored under key. The boolean is false when the key
// has never been saved.
func (s *Store) Load(key string) (string, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(data), true, nil
}

// Save overwrites the file for key with value. Files are written 0600.
func (s *Store) Save(key, value string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// List returns the stored keys in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing storage: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// SaveErrorRecord writes body to error_<unix-seconds>.md and returns the key.
// A numeric suffix is added when a record for the same second exists.
func (s *Store) SaveErrorRecord(body string) (string, error) {
	ts := s.now().Unix()
	key := fmt.Sprintf("error_%d.md", ts)
	for i := 1; ; i++ {
		p, err := s.path(key)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			break
		}
		key = fmt.Sprintf("error_%d_%d.md", ts, i)
	}
	if err := s.Save(key, body); err != nil {
		return "", err
	}
	return key, nil
}
