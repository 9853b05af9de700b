// Package shortcut places desktop launchers that start a branch through
// gamesync, so every launch checks for updates first.
package shortcut

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Options describe a launcher.
type Options struct {
	Name        string
	Target      string
	Arguments   []string
	WorkingDir  string
	Description string
}

// DesktopDir returns the first existing desktop folder under home.
func DesktopDir(home string) (string, error) {
	for _, dir := range []string{
		filepath.Join(home, "Desktop"),
		filepath.Join(home, "OneDrive", "Desktop"),
	} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("desktop directory not found")
}

// ForBranch returns the launcher options that run branch with exe.
func ForBranch(exe, branch string) Options {
	return Options{
		Name:        "Hytale (" + branch + ")",
		Target:      exe,
		Arguments:   []string{"run", "--branch", branch},
		WorkingDir:  filepath.Dir(exe),
		Description: "Update and launch the " + branch + " branch",
	}
}

// Create writes the launcher into dir and returns its path.
func Create(dir string, opts Options) (string, error) {
	if opts.Name == "" || opts.Target == "" {
		return "", fmt.Errorf("shortcut needs a name and a target")
	}
	return create(dir, opts)
}

// Target reads the target executable back from a launcher.
func Target(linkPath string) (string, error) {
	return target(linkPath)
}

func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, name)
}
