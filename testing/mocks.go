package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Platform values the mock catalog serves artifacts for.
const (
	MockOS   = "linux"
	MockArch = "amd64"
)

// MockCatalogServer serves a release catalog: version lists, patch
// artifacts and arbitrary files.
type MockCatalogServer struct {
	*httptest.Server

	mu        sync.Mutex
	versions  map[string][]int
	artifacts map[string][]byte
	requests  []MockRequest
}

// MockRequest records a request made to the mock server
type MockRequest struct {
	Method string
	Path   string
	Query  map[string][]string
}

// NewMockCatalogServer creates a catalog server that is closed with the test.
func NewMockCatalogServer(t *testing.T) *MockCatalogServer {
	t.Helper()

	mock := &MockCatalogServer{
		versions:  make(map[string][]int),
		artifacts: make(map[string][]byte),
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, MockRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
		})
		versions, hasVersions := mock.versions[r.URL.Path]
		body, hasArtifact := mock.artifacts[r.URL.Path]
		mock.mu.Unlock()

		switch {
		case hasVersions:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string][]int{"versions": versions})
		case hasArtifact:
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			if r.Method != http.MethodHead {
				w.Write(body)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// SetVersions publishes the version list of an API branch name.
func (m *MockCatalogServer) SetVersions(apiBranch string, versions ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions["/"+apiBranch+"/versions"] = versions
}

// PatchPath returns the artifact path for a from→to patch on the mock platform.
func PatchPath(apiBranch string, from, to int) string {
	return fmt.Sprintf("/%s/%s/%s/%d/%d.pwr", MockOS, MockArch, apiBranch, from, to)
}

// AddPatch publishes a from→to artifact. A from of 0 is a full build.
func (m *MockCatalogServer) AddPatch(apiBranch string, from, to int, data []byte) {
	m.AddFile(PatchPath(apiBranch, from, to), data)
}

// RemovePatch unpublishes a from→to artifact.
func (m *MockCatalogServer) RemovePatch(apiBranch string, from, to int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artifacts, PatchPath(apiBranch, from, to))
}

// AddFile serves data at path.
func (m *MockCatalogServer) AddFile(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[path] = data
}

// RequestCount returns the number of requests with method made to path.
// An empty method matches any.
func (m *MockCatalogServer) RequestCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.requests {
		if req.Path == path && (method == "" || req.Method == method) {
			count++
		}
	}
	return count
}

// Requests returns a copy of the recorded requests.
func (m *MockCatalogServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ClearRequests clears the recorded requests
func (m *MockCatalogServer) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}
