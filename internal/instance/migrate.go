package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
)

// dashDir matches pre-branch-folder layouts like release-29, release-v29
// and release-latest.
var dashDir = regexp.MustCompile(`^(.+)-(v?\d+|latest)$`)

var flatEntries = []string{ClientDir, UserDataDir, legacyGameDir}

// Migrate runs every layout migration in order. It is safe to call on each
// start and from concurrent sessions.
func (s *Store) Migrate() error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	if err := s.migrateLegacyData(); err != nil {
		return err
	}
	return s.migrateVersionFolders()
}

// MigrateLegacyData moves installs from older layouts into numbered version
// folders under their branch. Data whose version cannot be determined is left
// in place and reported.
func (s *Store) MigrateLegacyData() error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	return s.migrateLegacyData()
}

func (s *Store) migrateLegacyData() error {
	if err := s.migrateDashDirs(); err != nil {
		return err
	}
	for _, branch := range s.Branches() {
		if err := s.migrateFlatBranch(branch); err != nil {
			return err
		}
		if err := s.migrateLatestDir(branch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateDashDirs() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.Wrap(errdefs.ErrDisk, "read instance root", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := dashDir.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		src := filepath.Join(s.root, entry.Name())
		// A real branch folder holds instances, never a client directly.
		if !s.IsClientPresent(src) {
			continue
		}

		branch := channel.Normalize(m[1])
		logger := log.WithField("branch", branch).WithField("legacy", entry.Name())

		version, ok := 0, false
		if m[2] == "latest" {
			version, ok = s.LatestVersion(branch)
		} else {
			version, err = strconv.Atoi(strings.TrimPrefix(m[2], "v"))
			ok = err == nil && version > 0
		}
		if !ok {
			logger.Warn("cannot determine version of legacy install, leaving it in place")
			continue
		}

		if err := s.moveInto(src, filepath.Join(s.BranchDir(branch), strconv.Itoa(version)), logger); err != nil {
			return err
		}
	}
	return nil
}

// migrateFlatBranch handles <branch>/Client and friends sitting directly in
// the branch folder.
func (s *Store) migrateFlatBranch(branch string) error {
	branchDir := s.BranchDir(branch)

	var present []string
	for _, name := range flatEntries {
		if _, err := os.Stat(filepath.Join(branchDir, name)); err == nil {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		return nil
	}

	logger := log.WithField("branch", branch).WithField("legacy", "flat")
	version, ok := s.LatestVersion(branch)
	if !ok {
		logger.Warn("flat install has no version pointer, leaving it in place")
		return nil
	}

	target := filepath.Join(branchDir, strconv.Itoa(version))
	if _, err := os.Stat(target); err == nil {
		logger.WithField("target", target).Warn("version folder already exists, leaving flat install in place")
		return nil
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "create version folder", err)
	}
	for _, name := range present {
		if err := os.Rename(filepath.Join(branchDir, name), filepath.Join(target, name)); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "migrate flat install", err)
		}
	}
	logger.WithField("version", version).Info("migrated flat install")
	return nil
}

func (s *Store) migrateLatestDir(branch string) error {
	src := filepath.Join(s.BranchDir(branch), "latest")
	if _, err := os.Stat(src); err != nil {
		return nil
	}

	logger := log.WithField("branch", branch).WithField("legacy", "latest")
	version, ok := s.LatestVersion(branch)
	if !ok {
		logger.Warn("latest folder has no version pointer, leaving it in place")
		return nil
	}
	return s.moveInto(src, filepath.Join(s.BranchDir(branch), strconv.Itoa(version)), logger)
}

// moveInto renames src to dst unless dst already exists.
func (s *Store) moveInto(src, dst string, logger *log.Entry) error {
	if _, err := os.Stat(dst); err == nil {
		logger.WithField("target", dst).Warn("target already exists, leaving legacy install in place")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "create branch dir", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "migrate legacy install", err)
	}
	logger.WithField("target", dst).Info("migrated legacy install")
	return nil
}

// MigrateVersionFoldersToIDFolders renames numbered version folders to
// id-named folders carrying instance.json. The metadata is written before the
// rename, so an interrupted run is finished by the next one.
func (s *Store) MigrateVersionFoldersToIDFolders() error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	return s.migrateVersionFolders()
}

func (s *Store) migrateVersionFolders() error {
	for _, branch := range s.Branches() {
		branchDir := s.BranchDir(branch)
		entries, err := os.ReadDir(branchDir)
		if err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "read branch dir", err)
		}

		pointer := s.LoadLatestInfo(branch)
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			version, err := strconv.Atoi(entry.Name())
			if err != nil || version <= 0 {
				continue
			}
			src := filepath.Join(branchDir, entry.Name())

			meta, err := ReadMeta(src)
			if err != nil {
				stamped := Meta{
					ID:        s.newID(),
					Branch:    channel.Normalize(branch),
					Version:   version,
					CreatedAt: s.now().UTC(),
				}
				if info, statErr := entry.Info(); statErr == nil {
					stamped.CreatedAt = info.ModTime().UTC()
				}
				if err := WriteMeta(src, stamped); err != nil {
					return err
				}
				meta = &stamped
			}

			dst := filepath.Join(branchDir, meta.ID)
			if _, err := os.Stat(dst); err == nil {
				return errdefs.Wrap(errdefs.ErrDisk, "migrate version folder", fmt.Errorf("%s already exists", dst))
			}
			if err := os.Rename(src, dst); err != nil {
				return errdefs.Wrap(errdefs.ErrDisk, "migrate version folder", err)
			}

			if pointer != nil && pointer.Version == meta.Version && pointer.InstanceID == "" {
				if err := s.SaveLatestInfo(branch, pointer.Version, meta.ID); err != nil {
					return err
				}
				pointer = s.LoadLatestInfo(branch)
			}
			log.WithField("branch", branch).WithField("version", version).Infof("migrated version folder to %s", meta.ID)
		}
	}
	return nil
}
