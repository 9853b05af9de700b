package mods

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"

	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/paths"
)

const (
	// ManifestFile is the mod list kept next to the mod files.
	ManifestFile = "manifest.json"
	// DisabledSuffix is appended to the file name of a disabled mod.
	DisabledSuffix = ".disabled"

	localPrefix = "local-"
)

// InstalledMod is one entry of an instance's mod manifest.
type InstalledMod struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	Author      string    `json:"author,omitempty"`
	FileName    string    `json:"fileName"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt"`
}

// Manager reads and writes the mod manifest of instances. Writes are
// serialized with their own lock, independent of any update in progress.
type Manager struct {
	mu  sync.Mutex
	now func() time.Time
}

// NewManager creates a mod manifest manager.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// Dir returns the mods folder of an instance.
func Dir(instancePath string) string {
	return filepath.Join(instancePath, "Client", "mods")
}

func manifestPath(instancePath string) string {
	return filepath.Join(Dir(instancePath), ManifestFile)
}

// List returns the mods of an instance. Mod files on disk that the manifest
// does not know about are listed as local mods; a missing or unreadable
// manifest yields just those.
func (m *Manager) List(instancePath string) ([]InstalledMod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(instancePath)
}

func (m *Manager) list(instancePath string) ([]InstalledMod, error) {
	mods := readManifest(instancePath)

	entries, err := os.ReadDir(Dir(instancePath))
	if err != nil {
		if os.IsNotExist(err) {
			return mods, nil
		}
		return nil, errdefs.Wrap(errdefs.ErrDisk, "list mods", err)
	}

	known := make(map[string]bool, len(mods))
	for _, mod := range mods {
		known[strings.ToLower(mod.FileName)] = true
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isModFile(name) || known[strings.ToLower(name)] {
			continue
		}
		mod := m.localEntry(name)
		if info, err := e.Info(); err == nil {
			mod.InstalledAt = info.ModTime()
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

func readManifest(instancePath string) []InstalledMod {
	data, err := os.ReadFile(manifestPath(instancePath))
	if err != nil {
		return nil
	}
	var mods []InstalledMod
	if err := json.Unmarshal(jsonc.ToJSON(data), &mods); err != nil {
		log.WithField("path", instancePath).WithError(err).Warn("ignoring unreadable mod manifest")
		return nil
	}
	return mods
}

// Save replaces the manifest of an instance with mods.
func (m *Manager) Save(instancePath string, mods []InstalledMod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(instancePath, mods)
}

func (m *Manager) save(instancePath string, mods []InstalledMod) error {
	if mods == nil {
		mods = []InstalledMod{}
	}
	if err := os.MkdirAll(Dir(instancePath), 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "save mods", err)
	}
	data, err := json.MarshalIndent(mods, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mod manifest: %w", err)
	}
	if err := paths.WriteFileAtomic(manifestPath(instancePath), append(data, '\n')); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "save mods", err)
	}
	return nil
}

// InstallLocal copies the mod file at src into the instance and records it,
// replacing any entry with the same file name.
func (m *Manager) InstallLocal(instancePath, src string) (InstalledMod, error) {
	name := filepath.Base(src)
	if !isModFile(name) {
		return InstalledMod{}, errdefs.Wrap(errdefs.ErrInvalidRange, "install mod", fmt.Errorf("%s is not a mod archive", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dest, err := paths.ValidatePath(Dir(instancePath), filepath.Join(Dir(instancePath), name))
	if err != nil {
		return InstalledMod{}, errdefs.Wrap(errdefs.ErrInvalidRange, "install mod", err)
	}
	if err := copyFile(src, dest); err != nil {
		return InstalledMod{}, errdefs.Wrap(errdefs.ErrDisk, "install mod", err)
	}

	mods, err := m.list(instancePath)
	if err != nil {
		return InstalledMod{}, err
	}
	kept := mods[:0]
	for _, mod := range mods {
		if !strings.EqualFold(mod.FileName, name) {
			kept = append(kept, mod)
		}
	}
	mod := m.localEntry(name)
	mod.InstalledAt = m.now()
	kept = append(kept, mod)

	if err := m.save(instancePath, kept); err != nil {
		return InstalledMod{}, err
	}
	log.WithField("file", name).Info("installed local mod")
	return mod, nil
}

// SetEnabled enables or disables the mod with id by renaming its file.
func (m *Manager) SetEnabled(instancePath, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mods, err := m.list(instancePath)
	if err != nil {
		return err
	}
	i := indexOf(mods, id)
	if i < 0 {
		return errdefs.Wrap(errdefs.ErrNotFound, "toggle mod", fmt.Errorf("mod %s is not installed", id))
	}
	mod := &mods[i]
	newName := strings.TrimSuffix(mod.FileName, DisabledSuffix)
	if !enabled {
		newName += DisabledSuffix
	}
	if newName == mod.FileName && mod.Enabled == enabled {
		return nil
	}
	if newName != mod.FileName {
		if err := os.Rename(filepath.Join(Dir(instancePath), mod.FileName), filepath.Join(Dir(instancePath), newName)); err != nil {
			return errdefs.Wrap(errdefs.ErrDisk, "toggle mod", err)
		}
	}
	mod.FileName = newName
	mod.Enabled = enabled
	return m.save(instancePath, mods)
}

// Remove deletes the mod with id and its file.
func (m *Manager) Remove(instancePath, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mods, err := m.list(instancePath)
	if err != nil {
		return err
	}
	i := indexOf(mods, id)
	if i < 0 {
		return errdefs.Wrap(errdefs.ErrNotFound, "remove mod", fmt.Errorf("mod %s is not installed", id))
	}
	if err := os.Remove(filepath.Join(Dir(instancePath), mods[i].FileName)); err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.ErrDisk, "remove mod", err)
	}
	return m.save(instancePath, append(mods[:i], mods[i+1:]...))
}

// localEntry describes a mod file that came without marketplace metadata.
// Its id is derived from the file name so it is stable across listings.
func (m *Manager) localEntry(fileName string) InstalledMod {
	base := strings.TrimSuffix(fileName, DisabledSuffix)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name, ver := splitNameVersion(stem)
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(base)))
	return InstalledMod{
		ID:       localPrefix + strings.ReplaceAll(id.String(), "-", ""),
		Name:     name,
		Version:  ver,
		Author:   "Local file",
		FileName: fileName,
		Enabled:  !strings.HasSuffix(fileName, DisabledSuffix),
	}
}

var nameVersion = regexp.MustCompile(`^(.+?)[-_ ]v?(\d+(?:\.\d+)+[0-9A-Za-z.+-]*)$`)

// splitNameVersion splits "CoolMod-1.2.0" into its name and version.
func splitNameVersion(stem string) (string, string) {
	if m := nameVersion.FindStringSubmatch(stem); m != nil {
		return m[1], m[2]
	}
	return stem, ""
}

func isModFile(name string) bool {
	lower := strings.ToLower(name)
	if lower == ManifestFile {
		return false
	}
	lower = strings.TrimSuffix(lower, DisabledSuffix)
	return strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".zip")
}

func indexOf(mods []InstalledMod, id string) int {
	for i, mod := range mods {
		if mod.ID == id {
			return i
		}
	}
	return -1
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SortByName orders mods case-insensitively by name.
func SortByName(mods []InstalledMod) {
	sort.SliceStable(mods, func(i, j int) bool {
		return strings.ToLower(mods[i].Name) < strings.ToLower(mods[j].Name)
	})
}
