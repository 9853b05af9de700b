//go:build !windows

package shortcut

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// create writes a freedesktop.org launcher.
func create(dir string, opts Options) (string, error) {
	linkPath := filepath.Join(dir, safeName(opts.Name)+".desktop")

	exec := []string{quoteExec(opts.Target)}
	for _, a := range opts.Arguments {
		exec = append(exec, quoteExec(a))
	}

	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", opts.Name)
	if opts.Description != "" {
		fmt.Fprintf(&b, "Comment=%s\n", opts.Description)
	}
	fmt.Fprintf(&b, "Exec=%s\n", strings.Join(exec, " "))
	if opts.WorkingDir != "" {
		fmt.Fprintf(&b, "Path=%s\n", opts.WorkingDir)
	}
	b.WriteString("Terminal=false\n")

	if err := os.WriteFile(linkPath, []byte(b.String()), 0755); err != nil {
		return "", fmt.Errorf("failed to write shortcut: %w", err)
	}
	return linkPath, nil
}

func target(linkPath string) (string, error) {
	f, err := os.Open(linkPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Exec=") {
			continue
		}
		exec := strings.TrimPrefix(line, "Exec=")
		if strings.HasPrefix(exec, `"`) {
			if end := strings.Index(exec[1:], `"`); end >= 0 {
				return strings.ReplaceAll(exec[1:end+1], `\\`, `\`), nil
			}
		}
		if i := strings.IndexByte(exec, ' '); i >= 0 {
			return exec[:i], nil
		}
		return exec, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no Exec line in %s", linkPath)
}

func quoteExec(s string) string {
	if !strings.ContainsAny(s, " \t\"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
