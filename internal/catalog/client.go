package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/errdefs"
)

// Client talks to the remote release catalog.
type Client struct {
	baseURL    string
	os         string
	arch       string
	httpClient *http.Client
}

// NewClient creates a catalog client rooted at baseURL for one platform.
func NewClient(baseURL, goos, arch string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		os:         goos,
		arch:       arch,
		httpClient: httpClient,
	}
}

// HTTPClient returns the HTTP client, shared with the download client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchVersions lists published version numbers for branch, newest first.
func (c *Client) FetchVersions(ctx context.Context, branch string) ([]int, error) {
	q := url.Values{}
	q.Set("os_name", c.os)
	q.Set("arch", c.arch)
	endpoint := fmt.Sprintf("%s/%s/versions?%s", c.baseURL, url.PathEscape(channel.APIName(branch)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errdefs.FromContext("fetch versions", ctx.Err())
		}
		return nil, errdefs.Wrap(errdefs.ErrNetwork, "fetch versions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errdefs.Wrap(errdefs.ErrNotFound, "fetch versions", fmt.Errorf("branch %q not published", branch))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Wrap(errdefs.ErrNetwork, "fetch versions", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrNetwork, "read versions", err)
	}

	versions, err := ParseVersions(data)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrNetwork, "parse versions", err)
	}

	log.WithField("branch", branch).Debugf("catalog lists %d versions", len(versions))
	return versions, nil
}

// PatchURL returns the artifact URL that brings an install from `from` to `to`.
// A from of 0 addresses the full build of `to`.
func (c *Client) PatchURL(branch string, from, to int) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%d.pwr", c.baseURL, c.os, c.arch, url.PathEscape(channel.APIName(branch)), from, to)
}

// FullURL returns the artifact URL of the complete build of version.
func (c *Client) FullURL(branch string, version int) string {
	return c.PatchURL(branch, 0, version)
}

// ParseVersions accepts the shapes the catalog has served:
//
//	{"items": [{"version": 8}, ...]}
//	{"versions": [22, 21, ...]}  (or "targets")
//	[22, 21, ...]
//
// Entries may be numbers or numeric strings. The result is deduplicated and
// sorted newest first.
func ParseVersions(data []byte) ([]int, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse versions: %w", err)
	}

	var list []json.RawMessage
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("failed to parse versions: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var obj struct {
			Items []struct {
				Version json.RawMessage `json:"version"`
			} `json:"items"`
			Versions []json.RawMessage `json:"versions"`
			Targets  []json.RawMessage `json:"targets"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse versions: %w", err)
		}
		switch {
		case obj.Items != nil:
			for _, item := range obj.Items {
				list = append(list, item.Version)
			}
		case obj.Versions != nil:
			list = obj.Versions
		case obj.Targets != nil:
			list = obj.Targets
		default:
			return nil, fmt.Errorf("unrecognized versions response")
		}
	default:
		return nil, fmt.Errorf("unrecognized versions response")
	}

	seen := make(map[int]struct{}, len(list))
	versions := make([]int, 0, len(list))
	for _, el := range list {
		v, ok := parseVersionNumber(el)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))
	return versions, nil
}

func parseVersionNumber(el json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(el, &n); err == nil {
		return n, n > 0
	}
	var s string
	if err := json.Unmarshal(el, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
