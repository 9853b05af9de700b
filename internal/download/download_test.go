package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distantorigin/gamesync/internal/errdefs"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// TestDownloadFile_Success tests a complete download lands at the destination
func TestDownloadFile_Success(t *testing.T) {
	body := strings.Repeat("patch-bytes-", 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "1-2.pwr")
	client := NewClient(server.Client(), 0)

	var last int
	err := client.DownloadFile(context.Background(), server.URL+"/1/2.pwr", dest, func(done, total int64, pct int) {
		last = pct
	})
	require.NoError(t, err)
	assert.Equal(t, 100, last)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.Equal(t, []string{"1-2.pwr"}, listDir(t, dir), "no temp files may remain")
}

// TestDownloadFile_NotFound tests a 404 is classified and leaves nothing behind
func TestDownloadFile_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "missing.pwr")
	client := NewClient(server.Client(), 0)

	err := client.DownloadFile(context.Background(), server.URL+"/missing.pwr", dest, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "got %v", err)
	assert.Empty(t, listDir(t, dir))
}

// TestDownloadFile_CancelLeavesDestinationUntouched tests atomicity on cancellation
func TestDownloadFile_CancelLeavesDestinationUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1<<20))
		_, _ = w.Write(make([]byte, 4096))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "client.pwr")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(server.Client(), 0)
	client.ProgressInterval = 5 * time.Millisecond

	err := client.DownloadFile(ctx, server.URL+"/client.pwr", dest, func(done, total int64, pct int) {
		if done > 0 {
			cancel()
		}
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsCancelled(err), "got %v", err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
	assert.Equal(t, []string{"client.pwr"}, listDir(t, dir))
}

// TestToTemp tests scratch downloads return a readable path
func TestToTemp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), 0)
	path, err := client.ToTemp(context.Background(), server.URL, t.TempDir(), "step-", nil)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "step-"))
}

// TestGetFileSize_RetriesTransientFailures tests HEAD probes back off and retry
func TestGetFileSize_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", "1234")
	}))
	defer server.Close()

	client := NewClient(server.Client(), 5)
	size, err := client.GetFileSize(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestGetFileSize_GivesUpAfterRetries tests the retry bound
func TestGetFileSize_GivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.Client(), 2)
	_, err := client.GetFileSize(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrNetwork)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestFileExists tests existence probes
func TestFileExists(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/present.pwr" {
			w.Header().Set("Content-Length", "10")
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.Client(), 3)

	ok, err := client.FileExists(context.Background(), server.URL+"/present.pwr")
	require.NoError(t, err)
	assert.True(t, ok)

	atomic.StoreInt32(&calls, 0)
	ok, err = client.FileExists(context.Background(), server.URL+"/absent.pwr")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 must not be retried")
}
