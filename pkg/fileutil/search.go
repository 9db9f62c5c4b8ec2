package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the receiver's configuration file name.
const ConfigFileName = "iothook.yaml"

// SearchPathsOptional looks for a file in multiple locations.
// Returns the first path where the file exists, or empty string if not found.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns the config search paths, in order:
// 1. Current directory (./iothook.yaml)
// 2. Config subdirectory (./config/iothook.yaml)
// 3. System-wide config (/etc/iothook/iothook.yaml)
func DefaultConfigPaths() []string {
	return []string{
		filepath.Join(".", ConfigFileName),
		filepath.Join(".", "config", ConfigFileName),
		filepath.Join("/etc/iothook", ConfigFileName),
	}
}

// FindConfigOptional searches the default locations for a config file.
// Returns the path if found, or empty string if not found.
func FindConfigOptional() string {
	return SearchPathsOptional(DefaultConfigPaths())
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
