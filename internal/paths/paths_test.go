package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDenormalize tests conversion back to platform separators
func TestDenormalize(t *testing.T) {
	got := Denormalize("Client/mods/a.jar")
	want := filepath.Join("Client", "mods", "a.jar")
	if got != want {
		t.Errorf("Denormalize() = %q, want %q", got, want)
	}
}

// TestValidatePath_WithTempDirs tests traversal protection with real filesystem paths
func TestValidatePath_WithTempDirs(t *testing.T) {
	tempBase := t.TempDir()

	subDir := filepath.Join(tempBase, "sub")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"file in base", filepath.Join(tempBase, "file.txt"), false},
		{"file in subdirectory", filepath.Join(subDir, "file.txt"), false},
		{"base itself", tempBase, false},
		{"attempt to escape via ..", filepath.Join(tempBase, "..", "outside.txt"), true},
		{"sibling sharing prefix", tempBase + "-evil", true},
		{"deep nesting then escape", filepath.Join(tempBase, "a", "b", "..", "..", "..", "x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidatePath(tempBase, tt.target)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidatePath() expected error, got nil")
					return
				}
				if !strings.Contains(err.Error(), "traversal") {
					t.Errorf("ValidatePath() error = %v, want traversal error", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidatePath() unexpected error: %v", err)
				return
			}
			if result == "" {
				t.Errorf("ValidatePath() returned empty path")
			}
		})
	}
}
