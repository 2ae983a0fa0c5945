package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential directory.
const DirPerms = 0o700

// fileLayout is the on-disk format. Entries hold sealed values keyed by
// EntryAccessToken / EntryRefreshToken.
type fileLayout struct {
	Namespace string            `json:"namespace"`
	Entries   map[string]string `json:"entries"`
}

// FileStore keeps the credential pair in a single JSON file. Writes replace
// the file with rename(2), so another process reading concurrently sees
// either the old pair or the new pair, never a mix.
type FileStore struct {
	path   string
	sealer *Sealer

	// mu orders in-process readers against writers; rename handles
	// cross-process atomicity.
	mu sync.RWMutex
}

// NewFileStore returns a FileStore at path. The file is created on first Set.
func NewFileStore(path string, sealer *Sealer) *FileStore {
	return &FileStore{path: path, sealer: sealer}
}

// Path returns the credential file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get reads and decrypts the pair. Returns (nil, nil) if the file does not
// exist or holds no refresh token.
func (s *FileStore) Get(_ context.Context) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "logged out"
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorage, s.path, err)
	}

	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrStorage, s.path, err)
	}

	if layout.Namespace != s.sealer.Namespace() {
		return nil, fmt.Errorf("%w: %s belongs to namespace %q, want %q",
			ErrStorage, s.path, layout.Namespace, s.sealer.Namespace())
	}

	entries, err := s.sealer.openEntries(layout.Entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return fromEntries(entries), nil
}

// Set encrypts and writes both tokens in one atomic file replacement.
// Never logs token values.
func (s *FileStore) Set(_ context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	sealed, err := s.sealer.sealEntries(toEntries(c))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	data, err := json.MarshalIndent(fileLayout{Namespace: s.sealer.Namespace(), Entries: sealed}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data, ".credentials-*.tmp"); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return nil
}

// Clear removes the credential file. A missing file is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("%w: removing %s: %w", ErrStorage, s.path, err)
}

// writeFileAtomic writes data to path via temp file + fsync + rename with
// 0600 permissions. The temp file lives in the same directory so rename(2)
// never crosses filesystems.
func writeFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	// Flush before rename so a power loss cannot leave a truncated file at
	// the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}
