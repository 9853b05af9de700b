package mods

import (
	"context"
	"fmt"

	"github.com/distantorigin/gamesync/internal/errdefs"
)

// Listing is a mod offered by a marketplace.
type Listing struct {
	ID           string   `json:"id"`
	Slug         string   `json:"slug,omitempty"`
	Name         string   `json:"name"`
	Summary      string   `json:"summary,omitempty"`
	Author       string   `json:"author,omitempty"`
	Downloads    int64    `json:"downloads"`
	Categories   []string `json:"categories,omitempty"`
	LatestFile   string   `json:"latestFile,omitempty"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
}

// SearchResult is one page of marketplace results.
type SearchResult struct {
	Mods     []Listing `json:"mods"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
}

// Marketplace finds and installs mods from a remote catalog.
type Marketplace interface {
	Search(ctx context.Context, query string, page, pageSize int) (SearchResult, error)
	Install(ctx context.Context, modID, fileID, instancePath string) (InstalledMod, error)
	ListInstalled(instancePath string) ([]InstalledMod, error)
}

// Disabled is the marketplace used when no remote catalog is configured.
// It can only report what is already installed.
type Disabled struct {
	Manager *Manager
}

func (Disabled) Search(ctx context.Context, query string, page, pageSize int) (SearchResult, error) {
	return SearchResult{}, errdefs.Wrap(errdefs.ErrNotImplemented, "search mods", fmt.Errorf("no mod marketplace configured"))
}

func (Disabled) Install(ctx context.Context, modID, fileID, instancePath string) (InstalledMod, error) {
	return InstalledMod{}, errdefs.Wrap(errdefs.ErrNotImplemented, "install mod", fmt.Errorf("no mod marketplace configured"))
}

func (d Disabled) ListInstalled(instancePath string) ([]InstalledMod, error) {
	return d.Manager.List(instancePath)
}
