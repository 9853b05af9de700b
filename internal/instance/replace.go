package instance

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/paths"
)

// ReplaceInstance swaps a freshly built staging folder in for target. Player
// data, installed mods and the instance id of target are carried over. The old
// content is kept aside until the swap succeeds and restored otherwise.
func (s *Store) ReplaceInstance(staging, target string) error {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "create branch dir", err)
		}
		if err := os.Rename(staging, target); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "install instance", err)
		}
		return nil
	}

	carried := append(paths.PreservedDirs(), MetaFile)
	for _, rel := range carried {
		from := filepath.Join(target, rel)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		to := filepath.Join(staging, rel)
		if err := os.RemoveAll(to); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "prepare staging", err)
		}
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "prepare staging", err)
		}
		if err := os.Rename(from, to); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, fmt.Sprintf("carry over %s", rel), err)
		}
	}

	aside := asideDir(target)
	_ = os.RemoveAll(aside) // Best effort cleanup
	if err := os.Rename(target, aside); err != nil {
		s.restoreCarried(staging, target, carried)
		return errdefs.Wrap(errdefs.ErrDisk, "move old instance aside", err)
	}
	if err := os.Rename(staging, target); err != nil {
		if rbErr := os.Rename(aside, target); rbErr != nil {
			log.WithError(rbErr).Errorf("failed to restore %s", target)
		} else {
			s.restoreCarried(staging, target, carried)
		}
		return errdefs.Wrap(errdefs.ErrDisk, "install instance", err)
	}

	if err := os.RemoveAll(aside); err != nil {
		log.WithError(err).Warnf("failed to remove old instance %s", aside)
	}
	return nil
}

// asideDir names the folder old content waits in during a swap. It carries
// the staging prefix so CleanupStaging removes one left behind.
func asideDir(target string) string {
	return filepath.Join(filepath.Dir(target), stagingPrefix+"old-"+filepath.Base(target))
}

func (s *Store) restoreCarried(staging, target string, carried []string) {
	for _, rel := range carried {
		from := filepath.Join(staging, rel)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, filepath.Join(target, rel)); err != nil {
			log.WithError(err).Warnf("failed to restore %s", rel)
		}
	}
}
