package instance

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMigrateLegacyData_DashFolders tests release-N, release-vN and release-latest layouts
func TestMigrateLegacyData_DashFolders(t *testing.T) {
	s := newTestStore(t)
	root := s.Root()

	writeFile(t, filepath.Join(root, "release-29", ClientDir, testBinary), "29")
	writeFile(t, filepath.Join(root, "release-v30", ClientDir, testBinary), "30")
	writeFile(t, filepath.Join(root, "pre-release-latest", ClientDir, testBinary), "pre")
	require.NoError(t, s.SaveLatestInfo("pre-release", 12, ""))

	require.NoError(t, s.MigrateLegacyData())

	assert.FileExists(t, filepath.Join(root, "release", "29", ClientDir, testBinary))
	assert.FileExists(t, filepath.Join(root, "release", "30", ClientDir, testBinary))
	assert.FileExists(t, filepath.Join(root, "pre-release", "12", ClientDir, testBinary))
	assert.NoDirExists(t, filepath.Join(root, "release-29"))
	assert.NoDirExists(t, filepath.Join(root, "release-v30"))
	assert.NoDirExists(t, filepath.Join(root, "pre-release-latest"))
}

// TestMigrateLegacyData_Flat tests a client sitting directly in the branch folder
func TestMigrateLegacyData_Flat(t *testing.T) {
	s := newTestStore(t)
	branchDir := s.BranchDir("release")

	writeFile(t, filepath.Join(branchDir, ClientDir, testBinary), "bin")
	writeFile(t, filepath.Join(branchDir, UserDataDir, "settings.json"), "{}")
	require.NoError(t, s.SaveLatestInfo("release", 8, ""))

	require.NoError(t, s.MigrateLegacyData())

	assert.FileExists(t, filepath.Join(branchDir, "8", ClientDir, testBinary))
	assert.FileExists(t, filepath.Join(branchDir, "8", UserDataDir, "settings.json"))
	assert.NoDirExists(t, filepath.Join(branchDir, ClientDir))
	assert.FileExists(t, filepath.Join(branchDir, LatestFile))
}

// TestMigrateLegacyData_UnknownVersionLeftInPlace tests that nothing is moved or deleted without a version
func TestMigrateLegacyData_UnknownVersionLeftInPlace(t *testing.T) {
	s := newTestStore(t)
	branchDir := s.BranchDir("release")

	writeFile(t, filepath.Join(branchDir, ClientDir, testBinary), "bin")
	writeFile(t, filepath.Join(branchDir, "latest", ClientDir, testBinary), "bin")
	writeFile(t, filepath.Join(s.Root(), "beta-latest", ClientDir, testBinary), "bin")

	require.NoError(t, s.MigrateLegacyData())

	assert.FileExists(t, filepath.Join(branchDir, ClientDir, testBinary))
	assert.FileExists(t, filepath.Join(branchDir, "latest", ClientDir, testBinary))
	assert.FileExists(t, filepath.Join(s.Root(), "beta-latest", ClientDir, testBinary))
}

// TestMigrateLegacyData_Collision tests an existing version folder is never overwritten
func TestMigrateLegacyData_Collision(t *testing.T) {
	s := newTestStore(t)
	root := s.Root()

	writeFile(t, filepath.Join(root, "release-5", ClientDir, testBinary), "legacy")
	writeFile(t, filepath.Join(root, "release", "5", ClientDir, testBinary), "current")

	require.NoError(t, s.MigrateLegacyData())

	data, err := os.ReadFile(filepath.Join(root, "release", "5", ClientDir, testBinary))
	require.NoError(t, err)
	assert.Equal(t, "current", string(data))
	assert.FileExists(t, filepath.Join(root, "release-5", ClientDir, testBinary))
}

// TestMigrateLegacyData_IgnoresBranchNamesWithDigits tests a branch folder is not mistaken for a legacy install
func TestMigrateLegacyData_IgnoresBranchNamesWithDigits(t *testing.T) {
	s := newTestStore(t)
	path := installClient(t, s, "qa-2", 1)

	require.NoError(t, s.MigrateLegacyData())
	assert.DirExists(t, path)
	assert.NoDirExists(t, filepath.Join(s.Root(), "qa"))
}

// TestMigrateVersionFoldersToIDFolders tests numbered folders gain ids and metadata
func TestMigrateVersionFoldersToIDFolders(t *testing.T) {
	s := newTestStore(t)
	branchDir := s.BranchDir("release")

	writeFile(t, filepath.Join(branchDir, "4", ClientDir, testBinary), "4")
	writeFile(t, filepath.Join(branchDir, "5", ClientDir, testBinary), "5")
	require.NoError(t, s.SaveLatestInfo("release", 5, ""))

	before := s.GetInstalledInstances()
	require.Len(t, before, 2, "numbered folders are visible before migration")

	require.NoError(t, s.MigrateVersionFoldersToIDFolders())

	assert.NoDirExists(t, filepath.Join(branchDir, "4"))
	assert.NoDirExists(t, filepath.Join(branchDir, "5"))

	insts := s.GetInstalledInstances()
	require.Len(t, insts, 2)
	for _, inst := range insts {
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, filepath.Join(branchDir, inst.ID), inst.Path)
	}

	info := s.LoadLatestInfo("release")
	require.NotNil(t, info)
	assert.Equal(t, insts[1].ID, info.InstanceID, "pointer follows its version to the new folder")
	assert.Equal(t, insts[1].Path, s.LatestInstancePath("release"))
}

// TestMigrate_Idempotent tests a second run changes nothing
func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, filepath.Join(s.Root(), "release-3", ClientDir, testBinary), "3")
	writeFile(t, filepath.Join(s.Root(), "release-3", UserDataDir, "a"), "a")

	require.NoError(t, s.Migrate())
	first := s.GetInstalledInstances()
	require.Len(t, first, 1)
	assert.Equal(t, 3, first[0].Version)
	assert.True(t, s.HasUserData(first[0].Path))

	require.NoError(t, s.Migrate())
	assert.Equal(t, first, s.GetInstalledInstances())
}

// TestMigrateVersionFolders_ResumesInterruptedRun tests a stamped but unrenamed folder is finished
func TestMigrateVersionFolders_ResumesInterruptedRun(t *testing.T) {
	s := newTestStore(t)
	branchDir := s.BranchDir("release")
	src := filepath.Join(branchDir, "6")
	writeFile(t, filepath.Join(src, ClientDir, testBinary), "6")
	require.NoError(t, WriteMeta(src, Meta{ID: "stamped", Branch: "release", Version: 6}))

	require.NoError(t, s.MigrateVersionFoldersToIDFolders())
	assert.DirExists(t, filepath.Join(branchDir, "stamped"))
	assert.NoDirExists(t, src)
}

// TestMigrate_Concurrent tests sessions on different branches can migrate at the same time
func TestMigrate_Concurrent(t *testing.T) {
	s := newTestStore(t)
	for _, branch := range []string{"release", "pre-release"} {
		for v := 1; v <= 4; v++ {
			writeFile(t, filepath.Join(s.BranchDir(branch), strconv.Itoa(v), ClientDir, testBinary), branch)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Migrate()
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	insts := s.GetInstalledInstances()
	require.Len(t, insts, 8)
	for _, inst := range insts {
		assert.Equal(t, filepath.Join(s.BranchDir(inst.Branch), inst.ID), inst.Path)
		matches, err := filepath.Glob(filepath.Join(inst.Path, ".instance.json.tmp-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	}
}
