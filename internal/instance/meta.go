package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/paths"
)

// Meta is the instance.json record stamped into every instance folder.
type Meta struct {
	ID        string    `json:"id"`
	Branch    string    `json:"branch"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// LatestInfo is the per-branch pointer to the newest installed instance.
type LatestInfo struct {
	Version    int       `json:"version"`
	CheckedAt  time.Time `json:"checkedAt"`
	InstanceID string    `json:"instanceId,omitempty"`
}

// ReadMeta loads instance.json from an instance folder.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(path, MetaFile))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", MetaFile, err)
	}
	if m.ID == "" || m.Version <= 0 {
		return nil, fmt.Errorf("incomplete %s in %s", MetaFile, path)
	}
	return &m, nil
}

// WriteMeta atomically replaces instance.json in an instance folder.
func WriteMeta(path string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance metadata: %w", err)
	}
	if err := paths.WriteFileAtomic(filepath.Join(path, MetaFile), append(data, '\n')); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "write instance metadata", err)
	}
	return nil
}

// Stamp makes sure path is a labeled instance of branch at version, creating
// the folder and a fresh id when needed. It returns the resulting record.
func (s *Store) Stamp(path, branch string, version int) (Meta, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return Meta{}, errdefs.Wrap(errdefs.ErrDisk, "create instance dir", err)
	}

	m := Meta{
		ID:        filepath.Base(path),
		Branch:    channel.Normalize(branch),
		Version:   version,
		CreatedAt: s.now().UTC(),
	}
	if existing, err := ReadMeta(path); err == nil {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	}

	if err := WriteMeta(path, m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Relabel records that the instance at path now holds version.
func (s *Store) Relabel(path, branch string, version int) error {
	_, err := s.Stamp(path, branch, version)
	return err
}

func (s *Store) latestPath(branch string) string {
	return filepath.Join(s.BranchDir(branch), LatestFile)
}

// SaveLatestInfo atomically records version as the branch's newest install.
func (s *Store) SaveLatestInfo(branch string, version int, instanceID string) error {
	if err := os.MkdirAll(s.BranchDir(branch), 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "create branch dir", err)
	}
	info := LatestInfo{
		Version:    version,
		CheckedAt:  s.now().UTC(),
		InstanceID: instanceID,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal latest info: %w", err)
	}
	if err := paths.WriteFileAtomic(s.latestPath(branch), append(data, '\n')); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "write latest info", err)
	}
	return nil
}

// LoadLatestInfo reads the branch pointer. A missing, truncated or otherwise
// unreadable pointer yields nil.
func (s *Store) LoadLatestInfo(branch string) *LatestInfo {
	data, err := os.ReadFile(s.latestPath(branch))
	if err != nil {
		return nil
	}
	var info LatestInfo
	if err := json.Unmarshal(jsonc.ToJSON(data), &info); err != nil {
		log.WithField("branch", branch).WithError(err).Warn("ignoring unreadable latest pointer")
		return nil
	}
	if info.Version <= 0 {
		return nil
	}
	return &info
}
