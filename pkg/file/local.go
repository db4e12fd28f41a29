package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalRemover deletes files confined to a root directory.
type LocalRemover struct {
	root string // absolute
}

var _ Remover = (*LocalRemover)(nil)

// NewLocalRemover creates a remover for files under root.
func NewLocalRemover(root string) (*LocalRemover, error) {
	if root == "" {
		return nil, ErrInvalidConfig
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToGetAbsolutePath, err)
	}
	return &LocalRemover{root: abs}, nil
}

// Root returns the absolute root directory.
func (r *LocalRemover) Root() string { return r.root }

// Remove deletes the file at path. Absolute paths must lie under the root and
// relative paths are resolved against it. Directories are never removed.
func (r *LocalRemover) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	abs, err := r.resolve(path)
	if err != nil {
		return err
	}

	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToStatPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}

	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrFailedToDeleteFile, err)
	}
	return nil
}

func (r *LocalRemover) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(r.root, path)
	}

	if abs == r.root || !strings.HasPrefix(abs, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	return abs, nil
}
