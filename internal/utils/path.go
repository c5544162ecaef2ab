package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	// Expand `~` to the user's home directory
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func EnsureDir(path string) error {
	// already exists
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NormPath normalizes a path to a slash-separated relative form with no
// leading slash. Remote file listings and git trees both use this form.
func NormPath(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	return strings.TrimLeft(path, "/")
}

// SafeRelPath normalizes a path like NormPath and rejects anything that
// would not stay inside the tree it is joined to: absolute paths, empty
// paths and paths whose cleaned form starts with a ".." segment. Paths
// from remote listings must pass through here before touching disk or a
// git tree.
func SafeRelPath(path string) (string, error) {
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("absolute path %q", path)
	}
	norm := NormPath(path)
	if norm == "" || norm == "." || norm == ".." || strings.HasPrefix(norm, "../") {
		return "", fmt.Errorf("path %q escapes the tree", path)
	}
	return norm, nil
}
