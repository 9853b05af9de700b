package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/instance"
	"github.com/distantorigin/gamesync/internal/logging"
	"github.com/distantorigin/gamesync/internal/patch"
	"github.com/distantorigin/gamesync/internal/process"
	"github.com/distantorigin/gamesync/internal/version"
)

// Versions resolves requested versions against the catalog.
type Versions interface {
	ResolveVersionOrLatest(ctx context.Context, branch string, requested int) (int, error)
	GetPatchSequence(from, to int) ([]version.Step, error)
}

// Store is the instance store as seen by a session.
type Store interface {
	Migrate() error
	CleanupStaging(branch string)
	FindInstance(branch string, version int) (instance.Instance, bool)
	NewestBelow(branch string, version int) (instance.Instance, bool)
	ResolveInstancePath(branch string, version int, preferExisting bool) (string, error)
	LoadLatestInfo(branch string) *instance.LatestInfo
	SaveLatestInfo(branch string, version int, instanceID string) error
	ClientExecutable(path string) string
}

// Patcher brings instances to a version.
type Patcher interface {
	ApplyDifferentialUpdate(ctx context.Context, versionPath, branch string, installed, latest int, onProgress patch.ProgressFunc) error
	InstallFull(ctx context.Context, branch string, version int, targetDir string, onProgress patch.ProgressFunc) error
}

// Launcher starts the game.
type Launcher interface {
	IsGameRunning() bool
	Launch(exe string, args []string) (*process.Handle, error)
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Versions   Versions
	Store      Store
	Patcher    Patcher
	Launcher   Launcher
	LaunchArgs []string
	Observers  []Observer
}

// Orchestrator runs download-and-launch sessions, at most one per branch.
type Orchestrator struct {
	cfg Config

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	active map[string]context.CancelFunc
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
		active: make(map[string]context.CancelFunc),
	}
}

func (o *Orchestrator) lockFor(branch string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[branch]
	if !ok {
		l = &sync.Mutex{}
		o.locks[branch] = l
	}
	return l
}

// Busy reports whether a session is running for branch.
func (o *Orchestrator) Busy(branch string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[channel.Normalize(branch)]
	return ok
}

// WithBranchLock runs fn while holding branch's session guard, so no session
// for branch starts until fn returns. It fails with ErrOperationInProgress
// without calling fn when a session is already running.
func (o *Orchestrator) WithBranchLock(branch string, fn func() error) error {
	branch = channel.Normalize(branch)
	lock := o.lockFor(branch)
	if !lock.TryLock() {
		return errdefs.Wrap(errdefs.ErrOperationInProgress, "lock branch",
			fmt.Errorf("branch %q is being updated", branch))
	}
	defer lock.Unlock()
	return fn()
}

// Cancel stops the session running for branch, if any.
func (o *Orchestrator) Cancel(branch string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.active[channel.Normalize(branch)]
	if ok {
		cancel()
	}
	return ok
}

// CancelDownload stops every running session.
func (o *Orchestrator) CancelDownload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for branch, cancel := range o.active {
		log.WithField("branch", branch).Info("cancelling session")
		cancel()
	}
}

// DownloadAndLaunch makes sure req.Branch is installed at the requested
// version, patching an older instance when possible and falling back to a
// full download when a patch is missing or rejected, then optionally starts
// the game. A second call for a branch that is already busy fails with
// ErrOperationInProgress without touching anything.
func (o *Orchestrator) DownloadAndLaunch(ctx context.Context, req Request, onProgress patch.ProgressFunc) Result {
	branch := channel.Normalize(req.Branch)
	res := Result{ID: uuid.NewString(), Branch: branch}

	if err := channel.Validate(branch); err != nil {
		return o.fail(res, errdefs.Wrap(errdefs.ErrInvalidRange, "validate branch", err))
	}

	lock := o.lockFor(branch)
	if !lock.TryLock() {
		return o.fail(res, errdefs.Wrap(errdefs.ErrOperationInProgress, "download and launch",
			fmt.Errorf("branch %q is already being updated", branch)))
	}
	defer lock.Unlock()

	ctx, cancel := context.WithCancel(logging.WithSession(ctx, res.ID))
	defer cancel()
	o.mu.Lock()
	o.active[branch] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, branch)
		o.mu.Unlock()
	}()

	logger := logging.For("session").WithContext(ctx).WithField("branch", branch)
	logger.Infof("session started (requested version %d)", req.Version)

	res, err := o.install(ctx, logger, res, req.Version, onProgress)
	if err != nil {
		return o.done(o.fail(res, err))
	}

	if req.LaunchAfter != nil && req.LaunchAfter() {
		res, err = o.launch(logger, res)
		if err != nil {
			return o.done(o.fail(res, err))
		}
	}

	res.State = Success
	emit(onProgress, patch.Progress{Stage: patch.StageComplete, Percent: 100, Message: completeMessage(res)})
	logger.WithField("version", res.Version).WithField("method", res.Method).Info("session finished")
	return o.done(res)
}

func (o *Orchestrator) install(ctx context.Context, logger *log.Entry, res Result, requested int, onProgress patch.ProgressFunc) (Result, error) {
	branch := res.Branch
	store := o.cfg.Store

	if err := store.Migrate(); err != nil {
		return res, err
	}
	store.CleanupStaging(branch)

	target, err := o.cfg.Versions.ResolveVersionOrLatest(ctx, branch, requested)
	if err != nil {
		return res, err
	}
	res.Version = target

	if inst, ok := store.FindInstance(branch, target); ok && inst.ClientPresent {
		logger.Infof("version %d already installed", target)
		res.From, res.Path, res.Method = target, inst.Path, MethodNone
		return res, o.recordLatest(branch, target, inst.ID)
	} else if ok {
		logger.Warnf("instance for version %d has no client, reinstalling", target)
		res.Path = inst.Path
		return o.full(ctx, logger, res, onProgress)
	}

	base, ok := store.NewestBelow(branch, target)
	if !ok {
		path, err := store.ResolveInstancePath(branch, target, false)
		if err != nil {
			return res, err
		}
		res.Path = path
		return o.full(ctx, logger, res, onProgress)
	}

	res.From, res.Path, res.Method = base.Version, base.Path, MethodPatch
	res.Steps, err = o.cfg.Versions.GetPatchSequence(base.Version, target)
	if err != nil {
		return res, err
	}

	err = o.cfg.Patcher.ApplyDifferentialUpdate(ctx, base.Path, branch, base.Version, target, onProgress)
	if err == nil {
		return res, o.recordLatest(branch, target, base.ID)
	}
	if !errdefs.Fallbackable(err) {
		return res, err
	}

	logger.WithError(err).Warn("patching failed, falling back to a full download")
	res.Steps = nil
	return o.full(ctx, logger, res, onProgress)
}

func (o *Orchestrator) full(ctx context.Context, logger *log.Entry, res Result, onProgress patch.ProgressFunc) (Result, error) {
	res.Method = MethodFull
	logger.WithField("path", res.Path).Infof("installing full build %d", res.Version)
	if err := o.cfg.Patcher.InstallFull(ctx, res.Branch, res.Version, res.Path, onProgress); err != nil {
		return res, err
	}
	inst, ok := o.cfg.Store.FindInstance(res.Branch, res.Version)
	if !ok {
		return res, errdefs.Wrap(errdefs.ErrDisk, "verify install", fmt.Errorf("version %d missing after install", res.Version))
	}
	res.Path = inst.Path
	return res, o.recordLatest(res.Branch, res.Version, inst.ID)
}

// recordLatest moves the branch pointer forward. Installing an older version
// next to a newer one leaves the pointer on the newer install.
func (o *Orchestrator) recordLatest(branch string, ver int, id string) error {
	if info := o.cfg.Store.LoadLatestInfo(branch); info != nil && info.Version > ver {
		if _, ok := o.cfg.Store.FindInstance(branch, info.Version); ok {
			return nil
		}
	}
	return o.cfg.Store.SaveLatestInfo(branch, ver, id)
}

func (o *Orchestrator) launch(logger *log.Entry, res Result) (Result, error) {
	if o.cfg.Launcher == nil {
		return res, nil
	}
	if o.cfg.Launcher.IsGameRunning() {
		logger.Info("game already running, not launching another")
		res.Reason = "game is already running"
		return res, nil
	}
	exe := o.cfg.Store.ClientExecutable(res.Path)
	if _, err := o.cfg.Launcher.Launch(exe, o.cfg.LaunchArgs); err != nil {
		return res, err
	}
	res.Launched = true
	return res, nil
}

func (o *Orchestrator) fail(res Result, err error) Result {
	res.Err = err
	res.Kind = errdefs.Kind(err)
	res.Reason = err.Error()
	if errdefs.IsCancelled(err) {
		res.State = Cancelled
		res.Reason = "cancelled by user"
	} else {
		res.State = Failed
	}
	log.WithField("branch", res.Branch).WithField("kind", res.Kind).Warnf("session ended: %s", res.Reason)
	return res
}

func (o *Orchestrator) done(res Result) Result {
	for _, obs := range o.cfg.Observers {
		obs.SessionFinished(res)
	}
	return res
}

func completeMessage(res Result) string {
	switch {
	case res.Launched:
		return "Launching game..."
	case res.Method == MethodNone:
		return fmt.Sprintf("Version %d is up to date", res.Version)
	default:
		return fmt.Sprintf("Installed version %d", res.Version)
	}
}

func emit(fn patch.ProgressFunc, p patch.Progress) {
	if fn != nil {
		fn(p)
	}
}
