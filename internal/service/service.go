// Package service is the request/response surface front ends talk to. It
// knows nothing about how requests arrive; see Register.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/instance"
	"github.com/distantorigin/gamesync/internal/logging"
	"github.com/distantorigin/gamesync/internal/mods"
	"github.com/distantorigin/gamesync/internal/patch"
	"github.com/distantorigin/gamesync/internal/process"
	"github.com/distantorigin/gamesync/internal/session"
	"github.com/distantorigin/gamesync/internal/version"
)

var logger = logging.For("service")

// Response is the serializable result of every operation.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func ok(data any) Response {
	return Response{OK: true, Data: data}
}

func failure(err error) Response {
	return Response{Error: err.Error(), Kind: errdefs.Kind(err)}
}

// Versions answers status questions against the catalog.
type Versions interface {
	GetVersionStatus(ctx context.Context, branch string, local version.LocalState) (version.VersionStatus, error)
	GetPendingUpdateInfo(ctx context.Context, branch string, local version.LocalState) (*version.UpdateInfo, error)
}

// Store is the instance store as seen by the service.
type Store interface {
	version.LocalState
	GetInstalledInstances() []instance.Instance
	FindInstance(branch string, version int) (instance.Instance, bool)
	DeleteGame(branch string, version int) bool
}

// Sessions runs download-and-launch sessions.
type Sessions interface {
	DownloadAndLaunch(ctx context.Context, req session.Request, onProgress patch.ProgressFunc) session.Result
	Busy(branch string) bool
	WithBranchLock(branch string, fn func() error) error
	Cancel(branch string) bool
	CancelDownload()
}

// Game controls the running client.
type Game interface {
	IsGameRunning() bool
	GetGameProcess() *process.Handle
	ExitGame() bool
}

// Events receives progress and session results.
type Events interface {
	Send(channel string, payload any) error
}

// Config holds the collaborators of a Service.
type Config struct {
	Versions Versions
	Store    Store
	Sessions Sessions
	Game     Game
	Mods     mods.Marketplace
}

// Service exposes engine operations as Responses.
type Service struct {
	cfg Config

	mu     sync.RWMutex
	events Events

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a service. Sessions it starts outlive the requests that
// started them and end at Shutdown.
func New(cfg Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{cfg: cfg, base: ctx, cancel: cancel}
}

// SetEvents routes progress and session events to e.
func (s *Service) SetEvents(e Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = e
}

func (s *Service) emit(channel string, payload any) {
	s.mu.RLock()
	e := s.events
	s.mu.RUnlock()
	if e == nil {
		return
	}
	if err := e.Send(channel, payload); err != nil {
		logger.WithField("channel", channel).WithError(err).Debug("failed to send event")
	}
}

// VersionStatus reports whether a branch is installed and current.
func (s *Service) VersionStatus(ctx context.Context, branch string) Response {
	status, err := s.cfg.Versions.GetVersionStatus(ctx, branch, s.cfg.Store)
	if err != nil {
		return failure(err)
	}
	return ok(status)
}

// PendingUpdate describes the update waiting for a branch. Data is null when
// there is none.
func (s *Service) PendingUpdate(ctx context.Context, branch string) Response {
	info, err := s.cfg.Versions.GetPendingUpdateInfo(ctx, branch, s.cfg.Store)
	if err != nil {
		return failure(err)
	}
	return Response{OK: true, Data: info}
}

// DownloadRequest starts a session.
type DownloadRequest struct {
	Branch  string `json:"branch"`
	Version int    `json:"version"`
	Launch  bool   `json:"launch"`
}

// Accepted acknowledges a started session.
type Accepted struct {
	Branch string `json:"branch"`
}

// ProgressEvent is sent on ChannelProgress while a session runs.
type ProgressEvent struct {
	Branch string `json:"branch"`
	patch.Progress
}

// DownloadAndLaunch starts a session in the background and returns at once.
// Progress and the final result arrive as events.
func (s *Service) DownloadAndLaunch(req DownloadRequest) Response {
	branch := channel.Normalize(req.Branch)
	if err := channel.Validate(branch); err != nil {
		return failure(errdefs.Wrap(errdefs.ErrInvalidRequest, "download and launch", err))
	}
	if req.Version < 0 {
		return failure(errdefs.Wrap(errdefs.ErrInvalidRange, "download and launch", fmt.Errorf("version %d", req.Version)))
	}
	if s.cfg.Sessions.Busy(branch) {
		return failure(errdefs.Wrap(errdefs.ErrOperationInProgress, "download and launch",
			fmt.Errorf("branch %q is already being updated", branch)))
	}

	launch := req.Launch
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.cfg.Sessions.DownloadAndLaunch(s.base, session.Request{
			Branch:      branch,
			Version:     req.Version,
			LaunchAfter: func() bool { return launch },
		}, func(p patch.Progress) {
			s.emit(ChannelProgress, ProgressEvent{Branch: branch, Progress: p})
		})
		s.emit(ChannelFinished, res)
	}()
	return ok(Accepted{Branch: branch})
}

// Cancel stops the session of branch, or every session when branch is empty.
func (s *Service) Cancel(branch string) Response {
	if branch == "" {
		s.cfg.Sessions.CancelDownload()
		return ok(map[string]bool{"cancelled": true})
	}
	return ok(map[string]bool{"cancelled": s.cfg.Sessions.Cancel(branch)})
}

// Instances lists installed instances.
func (s *Service) Instances() Response {
	list := s.cfg.Store.GetInstalledInstances()
	if list == nil {
		list = []instance.Instance{}
	}
	return ok(list)
}

// DeleteInstance removes an installed instance. It refuses while the branch
// is being updated or the instance's client is running, and holds the
// branch's session guard until the removal is done.
func (s *Service) DeleteInstance(branch string, v int) Response {
	branch = channel.Normalize(branch)
	var inst instance.Instance
	err := s.cfg.Sessions.WithBranchLock(branch, func() error {
		var found bool
		inst, found = s.cfg.Store.FindInstance(branch, v)
		if !found {
			return errdefs.Wrap(errdefs.ErrNotFound, "delete instance", fmt.Errorf("%s version %d is not installed", branch, v))
		}
		if s.cfg.Game.IsGameRunning() {
			if h := s.cfg.Game.GetGameProcess(); h != nil && h.Path != "" && withinInstance(inst.Path, h.Path) {
				return errdefs.Wrap(errdefs.ErrOperationInProgress, "delete instance", fmt.Errorf("the game is running from this instance"))
			}
		}
		if !s.cfg.Store.DeleteGame(branch, v) {
			return errdefs.Wrap(errdefs.ErrDisk, "delete instance", fmt.Errorf("failed to remove %s", inst.Path))
		}
		return nil
	})
	if err != nil {
		return failure(err)
	}
	return ok(inst)
}

// InstalledMods lists the mods of an instance.
func (s *Service) InstalledMods(branch string, v int) Response {
	inst, found := s.cfg.Store.FindInstance(branch, v)
	if !found {
		return failure(errdefs.Wrap(errdefs.ErrNotFound, "list mods", fmt.Errorf("%s version %d is not installed", branch, v)))
	}
	list, err := s.cfg.Mods.ListInstalled(inst.Path)
	if err != nil {
		return failure(err)
	}
	if list == nil {
		list = []mods.InstalledMod{}
	}
	return ok(list)
}

// GameStatus is the Data of GameRunning.
type GameStatus struct {
	Running bool            `json:"running"`
	Process *process.Handle `json:"process,omitempty"`
}

// GameRunning reports the running client, if any.
func (s *Service) GameRunning() Response {
	if !s.cfg.Game.IsGameRunning() {
		return ok(GameStatus{})
	}
	return ok(GameStatus{Running: true, Process: s.cfg.Game.GetGameProcess()})
}

// ExitGame stops the running client.
func (s *Service) ExitGame() Response {
	return ok(map[string]bool{"stopped": s.cfg.Game.ExitGame()})
}

// Wait blocks until every session started by the service has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running sessions and waits for them to end.
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
