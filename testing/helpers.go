package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WriteFile writes content to path, creating parent folders.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// InstallClient lays out a minimal instance folder holding a client binary
// and one asset file.
func InstallClient(t *testing.T, instanceDir, binary, content string) {
	t.Helper()
	client := filepath.Join(instanceDir, "Client")
	WriteFile(t, filepath.Join(client, binary), content)
	WriteFile(t, filepath.Join(client, "Assets", "data.bin"), "assets")
}

// AssertFileExists fails when nothing exists at path.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.NoError(t, err, "expected %s to exist", path)
}

// AssertFileNotExists fails when something exists at path.
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expected %s to be absent", path)
}

// AssertFileContent fails unless path holds exactly want.
func AssertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(got), "content of %s", path)
}

// AssertNoScratch fails when dir still holds download or staging leftovers.
func AssertNoScratch(t *testing.T, dir string) {
	t.Helper()
	for _, pattern := range []string{".*.part-*", ".staging-*", "*.pwr*.tmp"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		assert.Empty(t, matches, "scratch files left in %s", dir)
	}
}
