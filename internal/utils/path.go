package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands ~ and returns a cleaned absolute path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

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

// NormPath converts a path to forward slashes, cleans it, and trims the leading slash.
func NormPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = filepath.ToSlash(filepath.Clean(path))
	return strings.TrimLeft(path, "/")
}

// IsValidRelPath reports whether path is a clean relative POSIX path that does
// not escape its root.
func IsValidRelPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return clean == path || clean+"/" == path
}

// PathOwner returns the first segment of a relative path, i.e. the datasite
// owner's email. Empty if the path has no segments.
func PathOwner(relPath string) string {
	relPath = NormPath(relPath)
	owner, _, _ := strings.Cut(relPath, "/")
	return owner
}
