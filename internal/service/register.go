package service

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/distantorigin/gamesync/internal/bridge"
	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/paths"
)

// Request channels.
const (
	ChannelVersionStatus  = "version.status"
	ChannelPendingUpdate  = "update.pending"
	ChannelStart          = "session.start"
	ChannelCancel         = "session.cancel"
	ChannelInstances      = "instances.list"
	ChannelDeleteInstance = "instances.delete"
	ChannelInstalledMods  = "mods.list"
	ChannelGameRunning    = "game.running"
	ChannelExitGame       = "game.exit"
)

// Event channels.
const (
	ChannelProgress = "session.progress"
	ChannelFinished = "session.finished"
)

type branchRequest struct {
	Branch string `json:"branch"`
}

type instanceRequest struct {
	Branch  string `json:"branch"`
	Version int    `json:"version"`
}

// Register binds every operation to t and routes events through it.
func Register(s *Service, t bridge.Transport) {
	s.SetEvents(t)

	t.Handle(ChannelVersionStatus, func(ctx context.Context, payload json.RawMessage) any {
		var req branchRequest
		if err := decode(payload, &req); err != nil {
			return failure(err)
		}
		return s.VersionStatus(ctx, req.Branch)
	})
	t.Handle(ChannelPendingUpdate, func(ctx context.Context, payload json.RawMessage) any {
		var req branchRequest
		if err := decode(payload, &req); err != nil {
			return failure(err)
		}
		return s.PendingUpdate(ctx, req.Branch)
	})
	t.Handle(ChannelStart, func(ctx context.Context, payload json.RawMessage) any {
		var req DownloadRequest
		if err := decode(payload, &req); err != nil {
			return failure(err)
		}
		return s.DownloadAndLaunch(req)
	})
	t.Handle(ChannelCancel, func(ctx context.Context, payload json.RawMessage) any {
		var req branchRequest
		if err := decode(payload, &req); err != nil {
			return failure(err)
		}
		return s.Cancel(req.Branch)
	})
	t.Handle(ChannelInstances, func(ctx context.Context, payload json.RawMessage) any {
		return s.Instances()
	})
	t.Handle(ChannelDeleteInstance, func(ctx context.Context, payload json.RawMessage) any {
		var req instanceRequest
		if err := decode(payload, &req); err != nil {
			return failure(err)
		}
		return s.DeleteInstance(req.Branch, req.Version)
	})
	t.Handle(ChannelInstalledMods, func(ctx context.Context, payload json.RawMessage) any {
		var req instanceRequest
		if err := decode(payload, &req); err != nil {
			return failure(err)
		}
		return s.InstalledMods(req.Branch, req.Version)
	})
	t.Handle(ChannelGameRunning, func(ctx context.Context, payload json.RawMessage) any {
		return s.GameRunning()
	})
	t.Handle(ChannelExitGame, func(ctx context.Context, payload json.RawMessage) any {
		return s.ExitGame()
	})
}

// decode accepts an empty payload as the zero request.
func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errdefs.Wrap(errdefs.ErrInvalidRequest, "decode request", err)
	}
	return nil
}

func withinInstance(instancePath, exe string) bool {
	base, err := filepath.Abs(instancePath)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(exe)
	if err != nil {
		return false
	}
	return paths.IsWithin(base, target)
}
