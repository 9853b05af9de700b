package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Denormalize converts a path from forward slashes to platform-specific separators
func Denormalize(p string) string {
	return strings.ReplaceAll(p, "/", string(filepath.Separator))
}

// ValidatePath ensures a path doesn't escape the base directory (path traversal protection)
func ValidatePath(basePath, targetPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	if !IsWithin(absBase, absTarget) {
		return "", fmt.Errorf("path traversal attempt detected")
	}

	return absTarget, nil
}

// IsWithin reports whether target is base or lies below it. Both must be clean.
func IsWithin(base, target string) bool {
	if target == base {
		return true
	}
	return strings.HasPrefix(target, strings.TrimSuffix(base, string(filepath.Separator))+string(filepath.Separator))
}

// PreservedDirs returns the instance-relative directories carried over on reinstall.
func PreservedDirs() []string {
	return []string{"UserData", filepath.Join("Client", "mods")}
}

// WriteFileAtomic writes data to a sibling temp file, syncs it and renames it
// over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath) // Best effort cleanup
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath) // Best effort cleanup
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) // Best effort cleanup
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best effort cleanup
		return err
	}
	return nil
}
