package pagetree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// cleanRel validates a docs-relative path and returns it in slash form.
// Empty paths, absolute escapes and ".." segments are rejected.
func cleanRel(rel string) (string, error) {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidInput)
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: path %q escapes the docs root", ErrInvalidInput, rel)
		}
	}
	return rel, nil
}

// validName rejects names that would address anything but a direct sibling.
func validName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: name %q must be a single path segment", ErrInvalidInput, name)
	}
	return nil
}

func (t *Tree) abs(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
