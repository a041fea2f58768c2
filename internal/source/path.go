package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator confines local document paths to one directory.
type PathValidator struct {
	directory string
}

// NewPathValidator creates a validator rooted at directory.
func NewPathValidator(directory string) (*PathValidator, error) {
	if directory == "" {
		return nil, fmt.Errorf("configured directory cannot be empty")
	}
	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configured directory: %w", err)
	}
	return &PathValidator{directory: filepath.Clean(abs)}, nil
}

// Directory returns the absolute confining directory.
func (v *PathValidator) Directory() string {
	return v.directory
}

// NormalizePath resolves path against the directory and rejects anything
// that lands outside it, following symlinks.
func (v *PathValidator) NormalizePath(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.directory, path)
	}
	clean := filepath.Clean(path)

	within, err := v.IsPathWithinDirectory(clean)
	if err != nil {
		return "", fmt.Errorf("path validation failed: %w", err)
	}
	if !within {
		return "", fmt.Errorf("%w: %s", ErrOutsideDirectory, path)
	}
	return clean, nil
}

// IsPathWithinDirectory reports whether the absolute path, and its target
// when it resolves through symlinks, both lie inside the directory.
func (v *PathValidator) IsPathWithinDirectory(path string) (bool, error) {
	if !filepath.IsAbs(path) {
		return false, fmt.Errorf("path must be absolute: %s", path)
	}
	clean := filepath.Clean(path)

	realDir := v.directory
	if resolved, err := filepath.EvalSymlinks(v.directory); err == nil {
		realDir = resolved
	}

	if !within(clean, v.directory) && !within(clean, realDir) {
		return false, nil
	}

	resolved, err := filepath.EvalSymlinks(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return within(resolved, realDir) || within(resolved, v.directory), nil
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
