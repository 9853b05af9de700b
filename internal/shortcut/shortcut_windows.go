//go:build windows

package shortcut

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

func withShell(fn func(shell *ole.IDispatch) error) error {
	if err := ole.CoInitialize(0); err != nil {
		return fmt.Errorf("failed to initialize COM: %w", err)
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WScript.Shell")
	if err != nil {
		return fmt.Errorf("failed to create WScript.Shell: %w", err)
	}
	defer unknown.Release()

	shell, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("failed to query shell interface: %w", err)
	}
	defer shell.Release()

	return fn(shell)
}

func create(dir string, opts Options) (string, error) {
	linkPath := filepath.Join(dir, safeName(opts.Name)+".lnk")

	err := withShell(func(shell *ole.IDispatch) error {
		link, err := oleutil.CallMethod(shell, "CreateShortcut", linkPath)
		if err != nil {
			return fmt.Errorf("failed to create shortcut: %w", err)
		}
		// Don't call link.Clear() - it causes crashes
		linkDisp := link.ToIDispatch()
		defer linkDisp.Release()

		props := []struct {
			name  string
			value any
		}{
			{"TargetPath", opts.Target},
			{"Arguments", quoteArgs(opts.Arguments)},
			{"WorkingDirectory", opts.WorkingDir},
			{"Description", opts.Description},
			{"WindowStyle", 1},
		}
		for _, p := range props {
			if _, err := oleutil.PutProperty(linkDisp, p.name, p.value); err != nil {
				return fmt.Errorf("failed to set shortcut %s: %w", p.name, err)
			}
		}
		if _, err := oleutil.CallMethod(linkDisp, "Save"); err != nil {
			return fmt.Errorf("failed to save shortcut: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return linkPath, nil
}

func target(linkPath string) (string, error) {
	var out string
	err := withShell(func(shell *ole.IDispatch) error {
		link, err := oleutil.CallMethod(shell, "CreateShortcut", linkPath)
		if err != nil {
			return fmt.Errorf("failed to open shortcut: %w", err)
		}
		linkDisp := link.ToIDispatch()
		defer linkDisp.Release()

		t, err := oleutil.GetProperty(linkDisp, "TargetPath")
		if err != nil {
			return fmt.Errorf("failed to read shortcut target: %w", err)
		}
		out = t.ToString()
		return nil
	})
	return out, err
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t\"") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
