package version

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
)

// Source lists the published versions of a branch.
type Source interface {
	FetchVersions(ctx context.Context, branch string) ([]int, error)
}

// LocalState is the view of installed data needed to judge update status.
type LocalState interface {
	// LatestInstancePath returns the instance the branch's pointer names, or "".
	LatestInstancePath(branch string) string
	IsClientPresent(path string) bool
	// LatestVersion returns the pointer's version, false when there is no pointer.
	LatestVersion(branch string) (int, bool)
	HasUserData(path string) bool
}

type cachedList struct {
	versions  []int
	fetchedAt time.Time
}

// Resolver fetches, caches and interprets the remote version list.
type Resolver struct {
	source Source
	ttl    time.Duration
	cache  *gocache.Cache
	group  singleflight.Group

	mu     sync.RWMutex
	policy SequencePolicy
	now    func() time.Time
}

// NewResolver creates a resolver whose ListVersions answers from cache for ttl.
func NewResolver(source Source, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		ttl:    ttl,
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		policy: UnitSteps{},
		now:    time.Now,
	}
}

// SetPolicy replaces the patch sequence policy.
func (r *Resolver) SetPolicy(p SequencePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// ListVersions returns the branch's versions, newest first. A cached list
// younger than the resolver's ttl is reused; otherwise the catalog is queried,
// with concurrent callers sharing one request. A failed fetch is returned as
// is and never replaced by stale data.
func (r *Resolver) ListVersions(ctx context.Context, branch string) ([]int, error) {
	branch = channel.Normalize(branch)
	if r.ttl > 0 {
		if versions, ok := r.TryGetCached(branch, r.ttl); ok {
			return versions, nil
		}
	}
	return r.Refresh(ctx, branch)
}

// Refresh queries the catalog unconditionally and updates the cache.
func (r *Resolver) Refresh(ctx context.Context, branch string) ([]int, error) {
	branch = channel.Normalize(branch)
	// The shared fetch outlives any single caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(branch, func() (interface{}, error) {
		versions, err := r.source.FetchVersions(fetchCtx, branch)
		if err != nil {
			return nil, err
		}
		r.cache.Set(branch, cachedList{versions: versions, fetchedAt: r.now()}, gocache.NoExpiration)
		log.WithField("branch", branch).Debugf("cached %d versions", len(versions))
		return versions, nil
	})

	select {
	case <-ctx.Done():
		return nil, errdefs.FromContext("list versions", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyInts(res.Val.([]int)), nil
	}
}

// TryGetCached returns the cached list if it was fetched within maxAge.
func (r *Resolver) TryGetCached(branch string, maxAge time.Duration) ([]int, bool) {
	item, ok := r.cache.Get(channel.Normalize(branch))
	if !ok {
		return nil, false
	}
	entry := item.(cachedList)
	if maxAge > 0 && r.now().Sub(entry.fetchedAt) > maxAge {
		return nil, false
	}
	return copyInts(entry.versions), true
}

// Latest returns the newest published version of branch.
func (r *Resolver) Latest(ctx context.Context, branch string) (int, error) {
	versions, err := r.ListVersions(ctx, branch)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, errdefs.Wrap(errdefs.ErrNotFound, "latest version", fmt.Errorf("branch %q has no published versions", branch))
	}
	return maxVersion(versions), nil
}

// ResolveVersionOrLatest maps 0 to the latest published version and returns
// any other request unchanged.
func (r *Resolver) ResolveVersionOrLatest(ctx context.Context, branch string, requested int) (int, error) {
	if requested < 0 {
		return 0, errdefs.Wrap(errdefs.ErrInvalidRange, "resolve version", fmt.Errorf("negative version %d", requested))
	}
	if requested != 0 {
		return requested, nil
	}
	return r.Latest(ctx, branch)
}

// GetPatchSequence returns the steps that take an install from `from` to `to`.
func (r *Resolver) GetPatchSequence(from, to int) ([]Step, error) {
	if from > to {
		return nil, errdefs.Wrap(errdefs.ErrInvalidRange, "patch sequence", fmt.Errorf("from %d is after to %d", from, to))
	}
	if from == to {
		return []Step{}, nil
	}
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()
	return policy.Steps(from, to), nil
}

// CheckNeedsUpdate reports whether the branch's latest instance is missing,
// unlabeled, or behind the remote latest.
func (r *Resolver) CheckNeedsUpdate(ctx context.Context, branch string, local LocalState) (bool, error) {
	status, err := r.GetVersionStatus(ctx, branch, local)
	if err != nil {
		return false, err
	}
	return status.State != UpToDate, nil
}

// GetVersionStatus classifies the branch's installed state against the catalog.
func (r *Resolver) GetVersionStatus(ctx context.Context, branch string, local LocalState) (VersionStatus, error) {
	branch = channel.Normalize(branch)
	versions, err := r.ListVersions(ctx, branch)
	if err != nil {
		return VersionStatus{}, err
	}

	status := VersionStatus{Branch: branch}
	if len(versions) > 0 {
		status.Latest = maxVersion(versions)
	}

	path := local.LatestInstancePath(branch)
	if path == "" || !local.IsClientPresent(path) {
		status.State = NotInstalled
		return status, nil
	}

	installed, ok := local.LatestVersion(branch)
	status.Installed = installed
	switch {
	case len(versions) == 0:
		status.State = UpToDate
		status.Latest = installed
	case !ok || installed < status.Latest:
		status.State = UpdateAvailable
	default:
		status.State = UpToDate
	}
	return status, nil
}

// GetPendingUpdateInfo describes the pending update of an installed branch,
// or returns nil when the branch is current or not installed.
func (r *Resolver) GetPendingUpdateInfo(ctx context.Context, branch string, local LocalState) (*UpdateInfo, error) {
	status, err := r.GetVersionStatus(ctx, branch, local)
	if err != nil {
		return nil, err
	}
	if status.State != UpdateAvailable {
		return nil, nil
	}
	return &UpdateInfo{
		Branch:         status.Branch,
		OldVersion:     status.Installed,
		NewVersion:     status.Latest,
		HasOldUserData: local.HasUserData(local.LatestInstancePath(status.Branch)),
	}, nil
}

func maxVersion(versions []int) int {
	m := versions[0]
	for _, v := range versions[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func copyInts(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	return out
}
