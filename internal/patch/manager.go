package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/butler"
	"github.com/distantorigin/gamesync/internal/download"
	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/version"
)

// DefaultMaxPatchSize rejects step artifacts that are too large to be a
// single-version patch, which points at a wrong installed version.
const DefaultMaxPatchSize = 500 * 1024 * 1024

// Sequencer expands a version range into patch steps.
type Sequencer interface {
	GetPatchSequence(from, to int) ([]version.Step, error)
}

// Artifacts locates patch artifacts.
type Artifacts interface {
	PatchURL(branch string, from, to int) string
	FullURL(branch string, version int) string
}

// Downloader fetches and probes artifacts.
type Downloader interface {
	ToTemp(ctx context.Context, url, dir, prefix string, callback download.ProgressCallback) (string, error)
	GetFileSize(ctx context.Context, url string) (int64, error)
}

// Tool provisions the patch tool.
type Tool interface {
	EnsureInstalled(ctx context.Context, progress butler.ProgressFunc) (string, error)
}

// Applier runs the patch tool against an instance.
type Applier interface {
	Apply(ctx context.Context, tool, patchFile, targetDir, stagingDir string, progress butler.ProgressFunc) error
}

// Store is the part of the instance store patching touches.
type Store interface {
	IsClientPresent(path string) bool
	Relabel(path, branch string, version int) error
	NewStagingDir(branch string) (string, error)
	ReplaceInstance(staging, target string) error
}

// Config holds the collaborators of a Manager.
type Config struct {
	Sequencer  Sequencer
	Artifacts  Artifacts
	Downloader Downloader
	Tool       Tool
	Applier    Applier
	Store      Store

	// MaxPatchSize bounds a single step artifact; 0 disables the check.
	MaxPatchSize int64
}

// Manager downloads and applies patch chains and full builds.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	state State
	step  int
	steps int
}

// NewManager creates a patch manager.
func NewManager(cfg Config) *Manager {
	if cfg.Applier == nil {
		cfg.Applier = butler.Runner{}
	}
	return &Manager{cfg: cfg}
}

// State returns the current phase and, while patching, the 1-based step.
func (m *Manager) State() (State, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.step, m.steps
}

func (m *Manager) setState(s State, step, steps int) {
	m.mu.Lock()
	m.state = s
	m.step = step
	m.steps = steps
	m.mu.Unlock()
}

// finish records the terminal state for err and passes err through.
func (m *Manager) finish(err error) error {
	switch {
	case err == nil:
		m.setState(Done, 0, 0)
	case errdefs.IsCancelled(err):
		m.setState(Cancelled, 0, 0)
	default:
		m.setState(Failed, 0, 0)
	}
	return err
}

// ApplyDifferentialUpdate moves the instance at versionPath from installed to
// latest one patch step at a time. Every step's artifact is probed before
// anything is changed, so a missing patch fails with ErrNotFound while the
// instance is untouched. After each applied step instance.json records the
// new version, so an interrupted chain resumes from where it stopped.
func (m *Manager) ApplyDifferentialUpdate(ctx context.Context, versionPath, branch string, installed, latest int, onProgress ProgressFunc) error {
	logger := log.WithField("branch", branch).WithField("path", versionPath)

	steps, err := m.cfg.Sequencer.GetPatchSequence(installed, latest)
	if err != nil {
		return m.finish(err)
	}
	if len(steps) == 0 {
		return m.finish(nil)
	}
	logger.Infof("patching %d -> %d in %d steps", installed, latest, len(steps))

	tool, err := m.provision(ctx, onProgress)
	if err != nil {
		return m.finish(err)
	}
	if err := m.preflight(ctx, branch, steps); err != nil {
		return m.finish(err)
	}

	scratch, err := m.cfg.Store.NewStagingDir(branch)
	if err != nil {
		return m.finish(err)
	}
	defer os.RemoveAll(scratch) // Best effort cleanup

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			logger.Infof("cancelled before step %d/%d", i+1, len(steps))
			return m.finish(errdefs.FromContext("apply patches", err))
		}
		if err := m.applyStep(ctx, tool, scratch, versionPath, branch, step, i, len(steps), onProgress); err != nil {
			logger.WithError(err).Warnf("step %d -> %d failed", step.From, step.To)
			return m.finish(err)
		}
		logger.Infof("applied patch %d -> %d", step.From, step.To)
	}

	emit(onProgress, Progress{Stage: StageComplete, Percent: 100, Message: fmt.Sprintf("Updated to v%d", latest)})
	return m.finish(nil)
}

func (m *Manager) provision(ctx context.Context, onProgress ProgressFunc) (string, error) {
	m.setState(ProvisioningTool, 0, 0)
	return m.cfg.Tool.EnsureInstalled(ctx, func(pct int, msg string) {
		emit(onProgress, Progress{Stage: StageTool, Percent: pct * toolShare / 100, Message: msg})
	})
}

func (m *Manager) preflight(ctx context.Context, branch string, steps []version.Step) error {
	for _, step := range steps {
		url := m.cfg.Artifacts.PatchURL(branch, step.From, step.To)
		size, err := m.cfg.Downloader.GetFileSize(ctx, url)
		if err != nil {
			return err
		}
		if m.cfg.MaxPatchSize > 0 && size > m.cfg.MaxPatchSize {
			return errdefs.Wrap(errdefs.ErrNotFound, "probe patch",
				fmt.Errorf("patch %d -> %d is %d bytes, too large for a single step", step.From, step.To, size))
		}
	}
	return nil
}

func (m *Manager) applyStep(ctx context.Context, tool, scratch, versionPath, branch string, step version.Step, i, n int, onProgress ProgressFunc) error {
	base, share := stepWindow(i, n)

	m.setState(DownloadingPatch, i+1, n)
	url := m.cfg.Artifacts.PatchURL(branch, step.From, step.To)
	patchFile, err := m.cfg.Downloader.ToTemp(ctx, url, scratch, fmt.Sprintf("%d-%d-", step.From, step.To), func(done, total int64, pct int) {
		emit(onProgress, Progress{
			Stage:      StageDownload,
			Percent:    base + pct*share/200,
			BytesDone:  done,
			BytesTotal: total,
			Step:       i + 1,
			Steps:      n,
			Message:    fmt.Sprintf("Downloading patch %d/%d... %d%%", i+1, n, pct),
		})
	})
	if err != nil {
		return err
	}
	defer os.Remove(patchFile) // Best effort cleanup

	if err := ctx.Err(); err != nil {
		return errdefs.FromContext("apply patches", err)
	}

	m.setState(ApplyingPatch, i+1, n)
	toolStaging := filepath.Join(scratch, "tool")
	defer os.RemoveAll(toolStaging) // Best effort cleanup
	err = m.cfg.Applier.Apply(ctx, tool, patchFile, versionPath, toolStaging, func(pct int, msg string) {
		emit(onProgress, Progress{
			Stage:   StageApply,
			Percent: base + share/2 + pct*share/200,
			Step:    i + 1,
			Steps:   n,
			Message: fmt.Sprintf("Applying patch %d/%d...", i+1, n),
		})
	})
	if err != nil {
		return err
	}

	m.setState(Verifying, i+1, n)
	if !m.cfg.Store.IsClientPresent(versionPath) {
		return errdefs.Wrap(errdefs.ErrToolFailed, "verify patch", fmt.Errorf("client missing after patch %d -> %d", step.From, step.To))
	}
	return m.cfg.Store.Relabel(versionPath, branch, step.To)
}

// InstallFull downloads the complete build of version, applies it into a
// fresh staging folder and, once verified, swaps it in for targetDir. The
// target keeps its player data and mods.
func (m *Manager) InstallFull(ctx context.Context, branch string, ver int, targetDir string, onProgress ProgressFunc) error {
	logger := log.WithField("branch", branch).WithField("version", ver)

	tool, err := m.provision(ctx, onProgress)
	if err != nil {
		return m.finish(err)
	}

	scratch, err := m.cfg.Store.NewStagingDir(branch)
	if err != nil {
		return m.finish(err)
	}
	defer os.RemoveAll(scratch) // Best effort cleanup

	if err := ctx.Err(); err != nil {
		return m.finish(errdefs.FromContext("install full build", err))
	}

	m.setState(DownloadingPatch, 1, 1)
	logger.Info("downloading full build")
	artifact, err := m.cfg.Downloader.ToTemp(ctx, m.cfg.Artifacts.FullURL(branch, ver), scratch, fmt.Sprintf("0-%d-", ver), func(done, total int64, pct int) {
		emit(onProgress, Progress{
			Stage:      StageDownload,
			Percent:    toolShare + pct*60/100,
			BytesDone:  done,
			BytesTotal: total,
			Step:       1,
			Steps:      1,
			Message:    fmt.Sprintf("Downloading... %d%%", pct),
		})
	})
	if err != nil {
		return m.finish(err)
	}
	defer os.Remove(artifact) // Best effort cleanup

	if err := ctx.Err(); err != nil {
		return m.finish(errdefs.FromContext("install full build", err))
	}

	m.setState(ApplyingPatch, 1, 1)
	build := filepath.Join(scratch, "build")
	err = m.cfg.Applier.Apply(ctx, tool, artifact, build, filepath.Join(scratch, "tool"), func(pct int, msg string) {
		emit(onProgress, Progress{Stage: StageInstall, Percent: 65 + pct*25/100, Step: 1, Steps: 1, Message: "Installing game..."})
	})
	if err != nil {
		return m.finish(err)
	}

	m.setState(Verifying, 1, 1)
	if !m.cfg.Store.IsClientPresent(build) {
		return m.finish(errdefs.Wrap(errdefs.ErrToolFailed, "verify full build", fmt.Errorf("client missing from build %d", ver)))
	}
	if err := ctx.Err(); err != nil {
		return m.finish(errdefs.FromContext("install full build", err))
	}

	if err := m.cfg.Store.ReplaceInstance(build, targetDir); err != nil {
		return m.finish(err)
	}
	if err := m.cfg.Store.Relabel(targetDir, branch, ver); err != nil {
		return m.finish(err)
	}

	logger.WithField("path", targetDir).Info("full build installed")
	emit(onProgress, Progress{Stage: StageComplete, Percent: 95, Message: "Download complete!"})
	return m.finish(nil)
}
