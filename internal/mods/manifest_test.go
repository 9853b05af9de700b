package mods

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distantorigin/gamesync/internal/errdefs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readManifestFile(t *testing.T, instancePath string) []InstalledMod {
	t.Helper()
	data, err := os.ReadFile(manifestPath(instancePath))
	require.NoError(t, err)
	var mods []InstalledMod
	require.NoError(t, json.Unmarshal(data, &mods))
	return mods
}

// TestList_WithComments tests loading a hand-edited manifest with comments
func TestList_WithComments(t *testing.T) {
	inst := t.TempDir()
	writeFile(t, manifestPath(inst), `[
  // pinned by hand
  {"id": "cf-1", "name": "Minimap", "version": "2.0", "fileName": "minimap.jar", "enabled": true},
  {"id": "cf-2", "name": "Shaders", "fileName": "shaders.zip.disabled", "enabled": false},
]`)
	writeFile(t, filepath.Join(Dir(inst), "minimap.jar"), "jar")
	writeFile(t, filepath.Join(Dir(inst), "shaders.zip.disabled"), "zip")

	mods, err := NewManager().List(inst)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "cf-1", mods[0].ID)
	assert.Equal(t, "2.0", mods[0].Version)
	assert.False(t, mods[1].Enabled)
}

// TestList_InvalidManifest tests a corrupt manifest falls back to the files on disk
func TestList_InvalidManifest(t *testing.T) {
	inst := t.TempDir()
	writeFile(t, manifestPath(inst), `[{"id": "cf-1", "name":`)
	writeFile(t, filepath.Join(Dir(inst), "CoolMod-1.2.0.jar"), "jar")

	mods, err := NewManager().List(inst)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "CoolMod", mods[0].Name)
	assert.Equal(t, "1.2.0", mods[0].Version)
	assert.Equal(t, "Local file", mods[0].Author)
	assert.True(t, mods[0].Enabled)
}

// TestList_NoModsFolder tests an instance that never had mods
func TestList_NoModsFolder(t *testing.T) {
	mods, err := NewManager().List(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, mods)
}

// TestList_DiscoversUnlistedFiles tests files dropped in by hand are reported
func TestList_DiscoversUnlistedFiles(t *testing.T) {
	inst := t.TempDir()
	writeFile(t, manifestPath(inst), `[{"id": "cf-1", "name": "Minimap", "fileName": "minimap.jar", "enabled": true}]`)
	writeFile(t, filepath.Join(Dir(inst), "minimap.jar"), "jar")
	writeFile(t, filepath.Join(Dir(inst), "extra.zip.disabled"), "zip")
	writeFile(t, filepath.Join(Dir(inst), "notes.txt"), "not a mod")

	m := NewManager()
	mods, err := m.List(inst)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "extra", mods[1].Name)
	assert.False(t, mods[1].Enabled)

	again, err := m.List(inst)
	require.NoError(t, err)
	assert.Equal(t, mods[1].ID, again[1].ID, "local ids are stable")
}

// TestInstallLocal tests installing a mod file from disk
func TestInstallLocal(t *testing.T) {
	inst := t.TempDir()
	src := filepath.Join(t.TempDir(), "Trees_v3.1.zip")
	writeFile(t, src, "zip bytes")

	m := NewManager()
	mod, err := m.InstallLocal(inst, src)
	require.NoError(t, err)
	assert.Equal(t, "Trees", mod.Name)
	assert.Equal(t, "3.1", mod.Version)
	assert.False(t, mod.InstalledAt.IsZero())

	data, err := os.ReadFile(filepath.Join(Dir(inst), "Trees_v3.1.zip"))
	require.NoError(t, err)
	assert.Equal(t, "zip bytes", string(data))

	saved := readManifestFile(t, inst)
	require.Len(t, saved, 1)
	assert.Equal(t, mod.ID, saved[0].ID)

	// Reinstalling the same file replaces the entry.
	_, err = m.InstallLocal(inst, src)
	require.NoError(t, err)
	assert.Len(t, readManifestFile(t, inst), 1)
}

// TestInstallLocal_RejectsOtherFiles tests only mod archives are accepted
func TestInstallLocal_RejectsOtherFiles(t *testing.T) {
	src := filepath.Join(t.TempDir(), "readme.txt")
	writeFile(t, src, "hi")

	_, err := NewManager().InstallLocal(t.TempDir(), src)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidRange))
}

// TestSetEnabled tests disabling and re-enabling renames the file
func TestSetEnabled(t *testing.T) {
	inst := t.TempDir()
	writeFile(t, manifestPath(inst), `[{"id": "cf-1", "name": "Minimap", "fileName": "minimap.jar", "enabled": true}]`)
	writeFile(t, filepath.Join(Dir(inst), "minimap.jar"), "jar")
	m := NewManager()

	require.NoError(t, m.SetEnabled(inst, "cf-1", false))
	assert.FileExists(t, filepath.Join(Dir(inst), "minimap.jar.disabled"))
	assert.NoFileExists(t, filepath.Join(Dir(inst), "minimap.jar"))
	assert.False(t, readManifestFile(t, inst)[0].Enabled)

	require.NoError(t, m.SetEnabled(inst, "cf-1", true))
	assert.FileExists(t, filepath.Join(Dir(inst), "minimap.jar"))
	saved := readManifestFile(t, inst)
	assert.True(t, saved[0].Enabled)
	assert.Equal(t, "minimap.jar", saved[0].FileName)

	err := m.SetEnabled(inst, "missing", true)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

// TestRemove tests removing a mod deletes its file and entry
func TestRemove(t *testing.T) {
	inst := t.TempDir()
	writeFile(t, manifestPath(inst), `[
  {"id": "cf-1", "name": "Minimap", "fileName": "minimap.jar", "enabled": true},
  {"id": "cf-2", "name": "Trees", "fileName": "trees.jar", "enabled": true}
]`)
	writeFile(t, filepath.Join(Dir(inst), "minimap.jar"), "jar")
	writeFile(t, filepath.Join(Dir(inst), "trees.jar"), "jar")

	require.NoError(t, NewManager().Remove(inst, "cf-1"))
	assert.NoFileExists(t, filepath.Join(Dir(inst), "minimap.jar"))
	saved := readManifestFile(t, inst)
	require.Len(t, saved, 1)
	assert.Equal(t, "cf-2", saved[0].ID)
}

// TestInstallLocal_Concurrent tests concurrent installs never lose entries
func TestInstallLocal_Concurrent(t *testing.T) {
	inst := t.TempDir()
	srcDir := t.TempDir()
	names := []string{"a.jar", "b.jar", "c.jar", "d.jar", "e.jar", "f.jar"}
	for _, n := range names {
		writeFile(t, filepath.Join(srcDir, n), n)
	}

	m := NewManager()
	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			_, err := m.InstallLocal(inst, filepath.Join(srcDir, n))
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	assert.Len(t, readManifestFile(t, inst), len(names))
}

// TestSplitNameVersion tests guessing name and version from file names
func TestSplitNameVersion(t *testing.T) {
	tests := []struct {
		stem        string
		wantName    string
		wantVersion string
	}{
		{"CoolMod-1.2.0", "CoolMod", "1.2.0"},
		{"Trees_v3.1", "Trees", "3.1"},
		{"big mod 2.0.1-beta", "big mod", "2.0.1-beta"},
		{"plain", "plain", ""},
		{"mod-7", "mod-7", ""},
	}
	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			name, ver := splitNameVersion(tt.stem)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantVersion, ver)
		})
	}
}

// TestDisabledMarketplace tests the marketplace stub
func TestDisabledMarketplace(t *testing.T) {
	inst := t.TempDir()
	writeFile(t, filepath.Join(Dir(inst), "minimap.jar"), "jar")
	var mp Marketplace = Disabled{Manager: NewManager()}

	_, err := mp.Search(context.Background(), "trees", 1, 20)
	assert.True(t, errors.Is(err, errdefs.ErrNotImplemented))

	_, err = mp.Install(context.Background(), "1", "2", inst)
	assert.True(t, errors.Is(err, errdefs.ErrNotImplemented))

	mods, err := mp.ListInstalled(inst)
	require.NoError(t, err)
	assert.Len(t, mods, 1)
}
