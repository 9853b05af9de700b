package changelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/distantorigin/gamesync/internal/session"
	"github.com/distantorigin/gamesync/internal/version"
)

var fixed = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func TestBuild(t *testing.T) {
	t.Run("patched update", func(t *testing.T) {
		res := session.Result{
			Branch:  "release",
			State:   session.Success,
			Method:  session.MethodPatch,
			From:    3,
			Version: 5,
			Path:    "/games/release/abc",
			Steps:   []version.Step{{From: 3, To: 4}, {From: 4, To: 5}},
		}

		got := Build(res, BuildConfig{Now: fixed})

		if !strings.Contains(got, "Update Report") {
			t.Error("Build() missing header")
		}
		if !strings.Contains(got, "Branch: release") {
			t.Error("Build() missing branch")
		}
		if !strings.Contains(got, "Finished: 2026-03-14 15:09:26") {
			t.Error("Build() missing or incorrect timestamp")
		}
		if !strings.Contains(got, "Updated from version 3 to 5 by patching (2 steps)") {
			t.Error("Build() missing method summary")
		}
		if !strings.Contains(got, "* Patch 3 -> 4") || !strings.Contains(got, "* Patch 4 -> 5") {
			t.Error("Build() missing patch steps")
		}
		if strings.Contains(got, "RELEASE NOTES") {
			t.Error("Build() should not have release notes without a notes file")
		}
	})

	t.Run("fresh full install", func(t *testing.T) {
		got := Build(session.Result{Branch: "release", State: session.Success, Method: session.MethodFull, Version: 7}, BuildConfig{Now: fixed})

		if !strings.Contains(got, "Installed version 7 with a full download") {
			t.Error("Build() incorrect full install summary")
		}
		if strings.Contains(got, "Patches applied") {
			t.Error("Build() should not list patches for a full install")
		}
	})

	t.Run("fallback full update", func(t *testing.T) {
		got := Build(session.Result{Branch: "release", State: session.Success, Method: session.MethodFull, From: 3, Version: 7}, BuildConfig{Now: fixed})

		if !strings.Contains(got, "Updated from version 3 to 7 with a full download") {
			t.Error("Build() incorrect fallback summary")
		}
	})

	t.Run("failure with reason", func(t *testing.T) {
		got := Build(session.Result{Branch: "beta", State: session.Failed, Reason: "disk full"}, BuildConfig{Now: fixed})

		if !strings.Contains(got, "Result: failed") || !strings.Contains(got, "Reason: disk full") {
			t.Error("Build() missing failure details")
		}
	})

	t.Run("release notes", func(t *testing.T) {
		notes := filepath.Join(t.TempDir(), NotesFile)
		if err := os.WriteFile(notes, []byte("New biome\nFaster loading\n"), 0644); err != nil {
			t.Fatal(err)
		}

		got := Build(session.Result{Branch: "release", State: session.Success, Method: session.MethodFull, Version: 2}, BuildConfig{NotesPath: notes, Now: fixed})

		if !strings.Contains(got, "RELEASE NOTES") || !strings.Contains(got, "New biome\nFaster loading\n") {
			t.Error("Build() missing release notes")
		}
	})
}

func TestFormatSteps(t *testing.T) {
	tests := []struct {
		name  string
		steps []version.Step
		want  string
	}{
		{"none", nil, ""},
		{"one", []version.Step{{From: 1, To: 2}}, "\nPatches applied:\n\n* Patch 1 -> 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSteps(tt.steps); got != tt.want {
				t.Errorf("FormatSteps() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJournal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	j := NewJournal(dir)
	j.now = func() time.Time { return fixed }

	j.SessionFinished(session.Result{Branch: "release", State: session.Success, Method: session.MethodNone, Version: 5})
	if _, err := os.Stat(j.ReportPath()); !os.IsNotExist(err) {
		t.Error("SessionFinished() wrote a report for a no-op session")
	}

	j.SessionFinished(session.Result{Branch: "release", State: session.Failed, Kind: "network", Reason: "offline"})
	j.SessionFinished(session.Result{Branch: "release", State: session.Success, Method: session.MethodFull, Version: 6})

	history, err := os.ReadFile(filepath.Join(dir, HistoryFile))
	if err != nil {
		t.Fatalf("failed to read history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(history)), "\n")
	if len(lines) != 3 {
		t.Fatalf("history has %d lines, want 3", len(lines))
	}
	if lines[1] != "2026-03-14T15:09:26Z failed branch=release version=0 kind=network" {
		t.Errorf("history line = %q", lines[1])
	}

	report, err := os.ReadFile(j.ReportPath())
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if !strings.Contains(string(report), "Installed version 6") {
		t.Error("report does not describe the last update")
	}
}
