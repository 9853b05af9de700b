package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/errdefs"
)

// ProgressCallback is called during download with progress info
type ProgressCallback func(bytesComplete, totalBytes int64, percentage int)

// Client streams remote artifacts to disk and probes their existence.
type Client struct {
	httpClient *http.Client
	grab       *grab.Client

	// Retries bounds HEAD probe attempts after the first one.
	Retries uint64
	// ProgressInterval is the minimum spacing between progress callbacks.
	ProgressInterval time.Duration
}

// NewClient creates a download client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, retries int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	g := grab.NewClient()
	g.HTTPClient = httpClient
	g.UserAgent = "gamesync"
	return &Client{
		httpClient:       httpClient,
		grab:             g,
		Retries:          uint64(retries),
		ProgressInterval: 100 * time.Millisecond,
	}
}

// DownloadFile streams url into destPath. Data lands in a sibling temp file
// that is renamed into place only on success; on any failure or cancellation
// the temp file is removed and destPath is left untouched.
func (c *Client) DownloadFile(ctx context.Context, url, destPath string, callback ProgressCallback) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "prepare download dir", err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".part-*")
	if err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "create temp file", err)
	}
	tempPath := tempFile.Name()
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) // Best effort cleanup
		return errdefs.Wrap(errdefs.ErrDisk, "close temp file", err)
	}

	if err := c.fetch(ctx, url, tempPath, callback); err != nil {
		_ = os.Remove(tempPath) // Best effort cleanup
		return err
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(tempPath) // Best effort cleanup
		return errdefs.Wrap(errdefs.ErrDisk, "move download into place", err)
	}

	return nil
}

// ToTemp downloads url into a fresh scratch file under dir and returns its path.
// The caller owns the returned file.
func (c *Client) ToTemp(ctx context.Context, url, dir, prefix string, callback ProgressCallback) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "prepare scratch dir", err)
	}
	tempFile, err := os.CreateTemp(dir, prefix+"*.tmp")
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrDisk, "create temp file", err)
	}
	tempPath := tempFile.Name()
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) // Best effort cleanup
		return "", errdefs.Wrap(errdefs.ErrDisk, "close temp file", err)
	}

	if err := c.fetch(ctx, url, tempPath, callback); err != nil {
		_ = os.Remove(tempPath) // Best effort cleanup
		return "", err
	}

	return tempPath, nil
}

func (c *Client) fetch(ctx context.Context, url, targetPath string, callback ProgressCallback) error {
	req, err := grab.NewRequest(targetPath, url)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true // Always overwrite, never resume

	resp := c.grab.Do(req)

	ticker := time.NewTicker(c.ProgressInterval)
	defer ticker.Stop()

	var lastBytes int64 = -1
loop:
	for {
		select {
		case <-ticker.C:
			if callback != nil {
				var percentage int
				if resp.Size() > 0 {
					percentage = int(resp.Progress() * 100)
				}
				if done := resp.BytesComplete(); done != lastBytes {
					callback(done, resp.Size(), percentage)
					lastBytes = done
				}
			}
		case <-resp.Done:
			break loop
		}
	}

	if err := resp.Err(); err != nil {
		return classify(ctx, "download "+url, err)
	}

	if callback != nil {
		callback(resp.BytesComplete(), resp.Size(), 100)
	}
	return nil
}

// GetFileSize returns the Content-Length reported by a HEAD request. Transient
// failures are retried with exponential backoff; a 404 is final.
func (c *Client) GetFileSize(ctx context.Context, url string) (int64, error) {
	var size int64
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(errdefs.FromContext("probe "+url, ctx.Err()))
			}
			return errdefs.Wrap(errdefs.ErrNetwork, "probe "+url, err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errdefs.Wrap(errdefs.ErrNotFound, "probe "+url, nil))
		case resp.StatusCode >= 500:
			return errdefs.Wrap(errdefs.ErrNetwork, "probe "+url, fmt.Errorf("HTTP %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return backoff.Permanent(errdefs.Wrap(errdefs.ErrNetwork, "probe "+url, fmt.Errorf("HTTP %d", resp.StatusCode)))
		}
		size = resp.ContentLength
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.Retries), ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, errdefs.FromContext("probe "+url, err)
		}
		return 0, err
	}
	return size, nil
}

// FileExists reports whether the remote artifact exists. A 404 is a normal
// false result; any other failure is returned.
func (c *Client) FileExists(ctx context.Context, url string) (bool, error) {
	if _, err := c.GetFileSize(ctx, url); err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errdefs.FromContext(op, ctx.Err())
	}

	var status grab.StatusCodeError
	if errors.As(err, &status) {
		if int(status) == http.StatusNotFound {
			return errdefs.Wrap(errdefs.ErrNotFound, op, err)
		}
		return errdefs.Wrap(errdefs.ErrNetwork, op, err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return errdefs.Wrap(errdefs.ErrDisk, op, err)
	}

	log.WithError(err).Debugf("download failed: %s", op)
	return errdefs.Wrap(errdefs.ErrNetwork, op, err)
}
