package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const ChannelFile = ".selected-branch"

const (
	Release    = "release"
	PreRelease = "pre-release"
)

var aliases = map[string]string{
	"stable":      Release,
	"latest":      Release,
	"prerelease":  PreRelease,
	"pre_release": PreRelease,
	"beta":        PreRelease,
}

// Normalize lowercases and trims a branch name and resolves known aliases
func Normalize(branch string) string {
	b := strings.ToLower(strings.TrimSpace(branch))
	if alias, ok := aliases[b]; ok {
		return alias
	}
	return b
}

// Validate rejects branch names that cannot be used as a single path segment
func Validate(branch string) error {
	b := Normalize(branch)
	if b == "" {
		return fmt.Errorf("branch name is empty")
	}
	if b == "." || b == ".." || strings.ContainsAny(b, `/\:`) {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	return nil
}

// APIName returns the branch name used by the remote catalog
func APIName(branch string) string {
	b := Normalize(branch)
	if b == PreRelease {
		return "prerelease"
	}
	return b
}

// Save writes the selected branch to the channel file in the specified directory
func Save(baseDir, branch string) error {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return err
	}
	channelPath := filepath.Join(baseDir, ChannelFile)
	return os.WriteFile(channelPath, []byte(Normalize(branch)), 0644)
}

// Load reads the selected branch from the channel file in the specified directory
func Load(baseDir string) (string, error) {
	channelPath := filepath.Join(baseDir, ChannelFile)
	data, err := os.ReadFile(channelPath)
	if err != nil {
		return "", err
	}
	return Normalize(string(data)), nil
}

// IsBuiltIn returns true if the branch is one the catalog always publishes
func IsBuiltIn(branch string) bool {
	b := Normalize(branch)
	return b == Release || b == PreRelease
}
