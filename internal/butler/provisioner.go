package butler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/archive"
	"github.com/distantorigin/gamesync/internal/download"
	"github.com/distantorigin/gamesync/internal/errdefs"
)

// ProgressFunc reports tool installation or patch application progress.
type ProgressFunc func(percent int, message string)

// Provisioner makes sure the patch tool is present under a tools directory.
type Provisioner struct {
	toolsDir string
	url      string
	dl       *download.Client

	mu sync.Mutex
}

// NewProvisioner creates a provisioner that installs into toolsDir from url.
func NewProvisioner(toolsDir, url string, dl *download.Client) *Provisioner {
	return &Provisioner{toolsDir: toolsDir, url: url, dl: dl}
}

// ExecutableName returns the tool binary name for the current platform.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "butler.exe"
	}
	return "butler"
}

// ToolPath returns where the tool binary lives once installed.
func (p *Provisioner) ToolPath() string {
	return filepath.Join(p.toolsDir, "butler", ExecutableName())
}

// IsInstalled reports whether the tool binary exists.
func (p *Provisioner) IsInstalled() bool {
	info, err := os.Stat(p.ToolPath())
	return err == nil && !info.IsDir()
}

// EnsureInstalled returns the tool path, installing the tool first when it is
// missing. Concurrent callers are serialized and share one installation.
func (p *Provisioner) EnsureInstalled(ctx context.Context, progress ProgressFunc) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IsInstalled() {
		report(progress, 100, "Patch tool ready")
		return p.ToolPath(), nil
	}
	if err := ctx.Err(); err != nil {
		return "", errdefs.FromContext("install patch tool", err)
	}

	if err := os.MkdirAll(p.toolsDir, 0755); err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "create tools dir", err)
	}
	unpackDir, err := os.MkdirTemp(p.toolsDir, ".butler-*")
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "create tool staging dir", err)
	}
	defer os.RemoveAll(unpackDir) // Best effort cleanup

	if HasBundle() {
		log.Info("installing bundled patch tool")
		report(progress, 50, "Unpacking bundled patch tool...")
		if err := archive.ExtractZipBytes(bundleData(), unpackDir, nil); err != nil {
			return "", errdefs.Wrap(errdefs.ErrDisk, "unpack bundled patch tool", err)
		}
	} else {
		if err := p.fetch(ctx, unpackDir, progress); err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(filepath.Join(unpackDir, ExecutableName())); err != nil {
		return "", errdefs.Wrap(errdefs.ErrToolFailed, "install patch tool", fmt.Errorf("archive does not contain %s", ExecutableName()))
	}

	final := filepath.Dir(p.ToolPath())
	_ = os.RemoveAll(final) // Best effort cleanup of a partial install
	if err := os.Rename(unpackDir, final); err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "install patch tool", err)
	}
	if err := os.Chmod(p.ToolPath(), 0755); err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "mark patch tool executable", err)
	}

	log.WithField("path", p.ToolPath()).Info("patch tool installed")
	report(progress, 100, "Patch tool ready")
	return p.ToolPath(), nil
}

func (p *Provisioner) fetch(ctx context.Context, unpackDir string, progress ProgressFunc) error {
	log.WithField("url", p.url).Info("downloading patch tool")
	report(progress, 0, "Downloading patch tool...")

	archivePath, err := p.dl.ToTemp(ctx, p.url, p.toolsDir, ".butler-archive-", func(done, total int64, pct int) {
		report(progress, pct*80/100, fmt.Sprintf("Downloading patch tool... %d%%", pct))
	})
	if err != nil {
		return err
	}
	defer os.Remove(archivePath) // Best effort cleanup

	report(progress, 85, "Unpacking patch tool...")
	if err := archive.Extract(archivePath, unpackDir, nil); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "unpack patch tool", err)
	}
	return nil
}

func report(progress ProgressFunc, percent int, message string) {
	if progress != nil {
		progress(percent, message)
	}
}
