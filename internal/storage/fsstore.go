// Package storage provides the filesystem-backed artifact store used for
// uploaded test assets, raw execution results, and generated reports.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores artifacts under a single root directory. Paths handed out and
// accepted by this store are always relative to the root, so they are safe to
// persist and survive a root relocation.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifact root directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Save writes content under dir/name and returns the relative storage path.
func (s *FSStore) Save(ctx context.Context, dir, name string, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, err := s.cleanRelPath(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}

	abs := filepath.Join(s.root, rel)
	if mkErr := os.MkdirAll(filepath.Dir(abs), 0o750); mkErr != nil {
		return "", fmt.Errorf("create artifact dir: %w", mkErr)
	}

	f, err := os.Create(abs) // #nosec G304 -- path is validated relative to the store root.
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err = io.Copy(f, content); err != nil {
		cerr := f.Close()
		return "", errors.Join(fmt.Errorf("write artifact: %w", err), cerr)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Exists reports whether a stored artifact is present and non-empty.
func (s *FSStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rel, err := s.cleanRelPath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// Open returns a reader over a stored artifact.
func (s *FSStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := s.cleanRelPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, rel)) // #nosec G304 -- path is validated relative to the store root.
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes a stored artifact. Deleting a missing artifact is not an error.
func (s *FSStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := s.cleanRelPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// cleanRelPath normalizes and rejects paths escaping the store root.
func (s *FSStore) cleanRelPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("artifact path is required")
	}
	rel := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the store root", p)
	}
	return rel, nil
}
