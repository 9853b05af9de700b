package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
)

const (
	MetaFile    = "instance.json"
	LatestFile  = "latest.json"
	ClientDir   = "Client"
	UserDataDir = "UserData"
	AssetsDir   = "Assets"

	legacyGameDir = "game"
	stagingPrefix = ".staging-"
)

// Instance is one installed copy of a branch's client.
type Instance struct {
	ID            string    `json:"id"`
	Branch        string    `json:"branch"`
	Version       int       `json:"version"`
	Path          string    `json:"path"`
	ClientPresent bool      `json:"clientPresent"`
	AssetsPresent bool      `json:"assetsPresent"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store owns the on-disk instance layout:
//
//	<root>/<branch>/latest.json
//	<root>/<branch>/<id>/instance.json
//	<root>/<branch>/<id>/Client/...
//	<root>/<branch>/<id>/UserData/...
type Store struct {
	root         string
	clientBinary string

	now   func() time.Time
	newID func() string

	// migrateMu serializes layout migrations, which touch every branch.
	migrateMu sync.Mutex
}

// NewStore creates a store rooted at root. clientBinary is the executable
// name looked up under Client/.
func NewStore(root, clientBinary string) *Store {
	return &Store{
		root:         root,
		clientBinary: clientBinary,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Root returns the instance root directory.
func (s *Store) Root() string {
	return s.root
}

// BranchDir returns the directory holding all instances of branch.
func (s *Store) BranchDir(branch string) string {
	return filepath.Join(s.root, channel.Normalize(branch))
}

// ClientExecutable returns the client binary path inside an instance,
// preferring the current layout over the legacy game/ subfolder.
func (s *Store) ClientExecutable(path string) string {
	for _, candidate := range s.clientCandidates(path) {
		if fileExists(candidate) {
			return candidate
		}
	}
	return s.clientCandidates(path)[0]
}

func (s *Store) clientCandidates(path string) []string {
	var out []string
	for _, base := range []string{path, filepath.Join(path, legacyGameDir)} {
		if runtime.GOOS == "darwin" {
			out = append(out, filepath.Join(base, ClientDir, "Hytale.app", "Contents", "MacOS", s.clientBinary))
		}
		out = append(out, filepath.Join(base, ClientDir, s.clientBinary))
	}
	return out
}

// IsClientPresent reports whether the client binary exists in the instance.
// Partially written or unreadable directories count as absent.
func (s *Store) IsClientPresent(path string) bool {
	if path == "" {
		return false
	}
	for _, candidate := range s.clientCandidates(path) {
		if fileExists(candidate) {
			return true
		}
	}
	return false
}

// AreAssetsPresent reports whether the instance has a non-empty asset folder.
func (s *Store) AreAssetsPresent(path string) bool {
	if path == "" {
		return false
	}
	candidates := []string{filepath.Join(path, ClientDir, AssetsDir)}
	if runtime.GOOS == "darwin" {
		candidates = append([]string{filepath.Join(path, ClientDir, "Hytale.app", "Contents", AssetsDir)}, candidates...)
	}
	for _, dir := range candidates {
		if dirHasEntries(dir) {
			return true
		}
	}
	return false
}

// UserDataPath returns the player data directory of an instance.
func (s *Store) UserDataPath(path string) string {
	return filepath.Join(path, UserDataDir)
}

// HasUserData reports whether the instance holds any player data.
func (s *Store) HasUserData(path string) bool {
	if path == "" {
		return false
	}
	return dirHasEntries(s.UserDataPath(path))
}

// listBranch enumerates the instance folders of one branch, whether stamped
// with instance.json or still named by version number.
func (s *Store) listBranch(branch string) []Instance {
	branchDir := s.BranchDir(branch)
	entries, err := os.ReadDir(branchDir)
	if err != nil {
		return nil
	}

	var out []Instance
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(branchDir, entry.Name())

		inst := Instance{Branch: channel.Normalize(branch), Path: path}
		if meta, err := ReadMeta(path); err == nil {
			inst.ID = meta.ID
			inst.Version = meta.Version
			inst.CreatedAt = meta.CreatedAt
		} else if v, err := strconv.Atoi(entry.Name()); err == nil && v > 0 {
			inst.Version = v
		} else {
			continue
		}
		inst.ClientPresent = s.IsClientPresent(path)
		inst.AssetsPresent = s.AreAssetsPresent(path)
		out = append(out, inst)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// FindInstance returns the instance of branch at version. When several
// folders claim the version, one with the client present wins.
func (s *Store) FindInstance(branch string, version int) (Instance, bool) {
	var found Instance
	ok := false
	for _, inst := range s.listBranch(branch) {
		if inst.Version != version {
			continue
		}
		if !ok || (inst.ClientPresent && !found.ClientPresent) {
			found = inst
			ok = true
		}
	}
	return found, ok
}

// InstancePath returns the folder of branch at version, or "" when none exists.
func (s *Store) InstancePath(branch string, version int) string {
	if inst, ok := s.FindInstance(branch, version); ok {
		return inst.Path
	}
	return ""
}

// ResolveInstancePath picks the folder an install of version should use.
// An existing folder at exactly version wins. With preferExisting, the newest
// older instance with a client is returned so it can be patched in place.
// Otherwise a fresh, not yet created folder path is allocated.
func (s *Store) ResolveInstancePath(branch string, version int, preferExisting bool) (string, error) {
	if version <= 0 {
		return "", errdefs.Wrap(errdefs.ErrInvalidRange, "resolve instance path", fmt.Errorf("version %d is not resolved", version))
	}
	if inst, ok := s.FindInstance(branch, version); ok {
		return inst.Path, nil
	}
	if preferExisting {
		if inst, ok := s.NewestBelow(branch, version); ok {
			return inst.Path, nil
		}
	}
	return filepath.Join(s.BranchDir(branch), s.newID()), nil
}

// NewestBelow returns the newest instance with a client whose version is
// lower than version.
func (s *Store) NewestBelow(branch string, version int) (Instance, bool) {
	var best Instance
	ok := false
	for _, inst := range s.listBranch(branch) {
		if inst.Version >= version || !inst.ClientPresent {
			continue
		}
		if !ok || inst.Version > best.Version {
			best = inst
			ok = true
		}
	}
	return best, ok
}

// LatestInstancePath returns the folder the branch's pointer names, or "".
func (s *Store) LatestInstancePath(branch string) string {
	info := s.LoadLatestInfo(branch)
	if info == nil {
		return ""
	}
	if info.InstanceID != "" {
		path := filepath.Join(s.BranchDir(branch), info.InstanceID)
		if dirExists(path) {
			return path
		}
	}
	return s.InstancePath(branch, info.Version)
}

// LatestVersion returns the version recorded by the branch's pointer.
func (s *Store) LatestVersion(branch string) (int, bool) {
	info := s.LoadLatestInfo(branch)
	if info == nil {
		return 0, false
	}
	return info.Version, true
}

// DeleteGame removes the instance of branch at version. It returns false when
// the instance does not exist or could not be fully removed.
func (s *Store) DeleteGame(branch string, version int) bool {
	inst, ok := s.FindInstance(branch, version)
	if !ok {
		return false
	}

	logger := log.WithField("branch", inst.Branch).WithField("version", version)
	if err := os.RemoveAll(inst.Path); err != nil {
		logger.WithError(err).Warn("failed to delete instance")
		return false
	}

	if info := s.LoadLatestInfo(branch); info != nil && (info.Version == version || (inst.ID != "" && info.InstanceID == inst.ID)) {
		if err := os.Remove(s.latestPath(branch)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Warn("failed to clear latest pointer")
		}
	}

	logger.Info("deleted instance")
	return true
}

// GetInstalledInstances lists every instance with its client present, ordered
// by branch then version.
func (s *Store) GetInstalledInstances() []Instance {
	var out []Instance
	for _, branch := range s.Branches() {
		for _, inst := range s.listBranch(branch) {
			if inst.ClientPresent {
				out = append(out, inst)
			}
		}
	}
	return out
}

// Branches lists the branch folders under the root.
func (s *Store) Branches() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out
}

// NewStagingDir creates a scratch folder inside the branch directory, on the
// same filesystem as the instances so it can be renamed into place.
func (s *Store) NewStagingDir(branch string) (string, error) {
	branchDir := s.BranchDir(branch)
	if err := os.MkdirAll(branchDir, 0755); err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "create branch dir", err)
	}
	dir, err := os.MkdirTemp(branchDir, stagingPrefix+"*")
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "create staging dir", err)
	}
	return dir, nil
}

// CleanupStaging removes scratch folders left behind by interrupted runs.
func (s *Store) CleanupStaging(branch string) {
	matches, _ := filepath.Glob(filepath.Join(s.BranchDir(branch), stagingPrefix+"*"))
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			log.WithError(err).Warnf("failed to remove stale staging dir %s", m)
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirHasEntries(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	return err == nil && len(names) > 0
}
