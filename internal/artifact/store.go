// Package artifact stores the blobs a workflow leaves behind: session
// continuity snapshots and challenge screenshots. Jobs only ever hold the
// string reference.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidRef = errors.New("invalid artifact ref")
)

type Store interface {
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Key builds the ref for a named artifact of a job.
func Key(jobID, name string) string {
	return path.Join("jobs", jobID, path.Base(name))
}

// FS keeps artifacts as files below Root. Refs are slash separated and
// relative to Root.
type FS struct {
	Root string
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FS{Root: root}, nil
}

func (s *FS) resolve(ref string) (string, error) {
	if ref == "" || path.IsAbs(ref) || strings.Contains(ref, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	clean := path.Clean(ref)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the store", ErrInvalidRef, ref)
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

// Put writes through a temp file and rename so readers never see a partial
// artifact.
func (s *FS) Put(_ context.Context, ref string, data []byte) error {
	dst, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", ref, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("commit artifact %s: %w", ref, err)
	}
	return nil
}

func (s *FS) Get(_ context.Context, ref string) ([]byte, error) {
	src, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return b, nil
}
