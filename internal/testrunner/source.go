package testrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/healforge/healer/internal/healerrors"
)

// FileSource reads and rewrites test files addressed by pytest node ids
// ("tests/test_api.py::test_get_users") relative to a project root.
// The whole file is the unit of healing, so tests sharing a file share its source.
type FileSource struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileSource creates a FileSource rooted at root.
func NewFileSource(root string) *FileSource {
	return &FileSource{root: root, locks: make(map[string]*sync.Mutex)}
}

// Path resolves the file of a node id. Ids escaping the root are rejected.
func (s *FileSource) Path(testID string) (string, error) {
	file, _, _ := strings.Cut(testID, "::")
	if strings.TrimSpace(file) == "" {
		return "", healerrors.NewValidationError("test_id", "must name a test file")
	}

	if filepath.IsAbs(file) {
		return "", healerrors.NewValidationError("test_id", "must be relative to the project root")
	}

	clean := filepath.Clean(filepath.FromSlash(file))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", healerrors.NewValidationError("test_id", "escapes the project root")
	}

	return filepath.Join(s.root, clean), nil
}

// Read returns the contents of the test's file.
func (s *FileSource) Read(_ context.Context, testID string) (string, error) {
	path, err := s.Path(testID)
	if err != nil {
		return "", err
	}

	lock := s.lock(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", healerrors.NewNotFoundError("test file", path)
		}

		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return string(data), nil
}

// Write replaces the test's file, keeping its permissions. The new content is
// written to a sibling temp file and renamed into place.
func (s *FileSource) Write(_ context.Context, testID, code string) error {
	path, err := s.Path(testID)
	if err != nil {
		return err
	}

	lock := s.lock(path)
	lock.Lock()
	defer lock.Unlock()

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".heal-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}

	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.WriteString(code); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("chmod %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}

func (s *FileSource) lock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}

	return l
}
