// Package tokenfile persists the single cached catalog token and provides the
// atomic JSON file helpers shared with other on-disk credential records.
// The token file is a shared resource between client processes, so every
// access is serialized through an advisory lock next to the file.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the configuration directory.
const DirPerms = 0o700

// lockSuffix names the advisory lock file that sits beside the token file.
const lockSuffix = ".lock"

// File is the on-disk format of the catalog token record.
type File struct {
	Token string `json:"token"`
}

// Store caches one catalog token in memory and on disk. The zero token ("")
// means unauthenticated. Safe for concurrent use within a process; the flock
// serializes access across processes sharing the same path.
type Store struct {
	path string
	lock *flock.Flock

	mu     sync.Mutex
	cached string
}

// NewStore returns a Store backed by the token file at path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + lockSuffix),
	}
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the cached token. ok is false (with a nil error) when no token
// has been saved. A malformed token file is a parse error.
func (s *Store) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" {
		return s.cached, true, nil
	}

	var tf File

	err := s.withLock(true, func() error {
		_, readErr := ReadJSON(s.path, &tf)
		return readErr
	})
	if err != nil {
		return "", false, err
	}

	if tf.Token == "" {
		return "", false, nil
	}

	s.cached = tf.Token

	return tf.Token, true, nil
}

// Save persists tok and makes it the cached token. It returns tok so callers
// can chain the freshly issued value.
func (s *Store) Save(tok string) (string, error) {
	if tok == "" {
		return "", errors.New("tokenfile: refusing to save empty token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withLock(false, func() error {
		return WriteJSON(s.path, File{Token: tok})
	})
	if err != nil {
		return "", err
	}

	s.cached = tok

	return tok, nil
}

// Clear removes the token file and the in-memory copy. Clearing an absent
// token is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = ""

	return s.withLock(false, func() error {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("tokenfile: removing %s: %w", s.path, err)
		}

		return nil
	})
}

// withLock runs fn while holding the cross-process lock, shared for reads.
func (s *Store) withLock(shared bool, fn func() error) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	var err error
	if shared {
		err = s.lock.RLock()
	} else {
		err = s.lock.Lock()
	}

	if err != nil {
		return fmt.Errorf("tokenfile: locking %s: %w", s.path, err)
	}

	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// ReadJSON decodes the JSON file at path into v. found is false (with a nil
// error) if the file does not exist.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return true, nil
}

// WriteJSON stores v as indented JSON at path with FilePerms. The data goes
// to a temp file in the same directory first and is renamed into place, so
// readers never see a partial file.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	if err := fillTemp(tmp, data); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("tokenfile: replacing %s: %w", path, err)
	}

	return nil
}

// fillTemp restricts, writes, flushes and closes tmp.
func fillTemp(tmp *os.File, data []byte) error {
	err := tmp.Chmod(FilePerms)
	if err == nil {
		_, err = tmp.Write(data)
	}

	if err == nil {
		err = tmp.Sync()
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("tokenfile: writing %s: %w", tmp.Name(), err)
	}

	return nil
}
