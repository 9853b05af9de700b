package integration

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distantorigin/gamesync/internal/butler"
	"github.com/distantorigin/gamesync/internal/catalog"
	"github.com/distantorigin/gamesync/internal/download"
	"github.com/distantorigin/gamesync/internal/instance"
	"github.com/distantorigin/gamesync/internal/patch"
	"github.com/distantorigin/gamesync/internal/process"
	"github.com/distantorigin/gamesync/internal/session"
	"github.com/distantorigin/gamesync/internal/version"
	testutil "github.com/distantorigin/gamesync/testing"
)

const binary = "HytaleClient"

// fakeGame records launches instead of starting a client.
type fakeGame struct {
	mu       sync.Mutex
	launched []string
	handle   *process.Handle
}

func (g *fakeGame) IsGameRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle != nil
}

func (g *fakeGame) Launch(exe string, args []string) (*process.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.launched = append(g.launched, exe)
	g.handle = &process.Handle{PID: 4242, Path: exe, StartedAt: time.Now()}
	return g.handle, nil
}

func (g *fakeGame) GetGameProcess() *process.Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle
}

func (g *fakeGame) ExitGame() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	stopped := g.handle != nil
	g.handle = nil
	return stopped
}

func (g *fakeGame) Launched() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.launched...)
}

// TestEnvironment wires the real engine against a mock catalog.
type TestEnvironment struct {
	T        *testing.T
	Server   *testutil.MockCatalogServer
	Store    *instance.Store
	Resolver *version.Resolver
	Sessions *session.Orchestrator
	Game     *fakeGame

	mu       sync.Mutex
	finished []session.Result
}

// SetupTestEnvironment creates a complete test environment. The patch tool
// is downloaded from the mock catalog on first use.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	testutil.SkipWithoutShell(t)

	server := testutil.NewMockCatalogServer(t)
	server.AddFile("/butler.zip", testutil.FakeButlerZip(t))

	client := catalog.NewClient(server.URL, testutil.MockOS, testutil.MockArch, server.Client())
	dl := download.NewClient(server.Client(), 0)
	resolver := version.NewResolver(client, time.Minute)
	store := instance.NewStore(filepath.Join(t.TempDir(), "instances"), binary)

	env := &TestEnvironment{
		T:        t,
		Server:   server,
		Store:    store,
		Resolver: resolver,
		Game:     &fakeGame{},
	}
	env.Sessions = session.New(session.Config{
		Versions: resolver,
		Store:    store,
		Patcher: patch.NewManager(patch.Config{
			Sequencer:    resolver,
			Artifacts:    client,
			Downloader:   dl,
			Tool:         butler.NewProvisioner(filepath.Join(t.TempDir(), "tools"), server.URL+"/butler.zip", dl),
			Store:        store,
			MaxPatchSize: patch.DefaultMaxPatchSize,
		}),
		Launcher: env.Game,
		Observers: []session.Observer{session.ObserverFunc(func(r session.Result) {
			env.mu.Lock()
			env.finished = append(env.finished, r)
			env.mu.Unlock()
		})},
	})
	return env
}

// Publish lists versions on the release branch.
func (e *TestEnvironment) Publish(versions ...int) {
	e.Server.SetVersions("release", versions...)
}

// PublishFull serves the full build of v.
func (e *TestEnvironment) PublishFull(v int) {
	e.Server.AddPatch("release", 0, v, testutil.ClientBuild(e.T, binary, v))
}

// PublishSteps serves single-step patches from → to.
func (e *TestEnvironment) PublishSteps(from, to int) {
	for v := from; v < to; v++ {
		e.Server.AddPatch("release", v, v+1, testutil.ClientBuild(e.T, binary, v+1))
	}
}

// InstallRelease lays out an installed release instance at v with some
// player data and returns its path.
func (e *TestEnvironment) InstallRelease(v int) string {
	e.T.Helper()
	path := filepath.Join(e.Store.BranchDir("release"), "inst-"+strconv.Itoa(v))
	testutil.InstallClient(e.T, path, binary, "build "+strconv.Itoa(v))
	testutil.WriteFile(e.T, filepath.Join(e.Store.UserDataPath(path), "Saves", "world.dat"), "my world")
	meta, err := e.Store.Stamp(path, "release", v)
	require.NoError(e.T, err)
	require.NoError(e.T, e.Store.SaveLatestInfo("release", v, meta.ID))
	return path
}

// ClientBuild reads the build marker of the client in an instance.
func (e *TestEnvironment) ClientBuild(path string) string {
	e.T.Helper()
	data, err := os.ReadFile(filepath.Join(path, "Client", binary))
	require.NoError(e.T, err)
	return string(data)
}

// Finished returns the results observers were told about.
func (e *TestEnvironment) Finished() []session.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]session.Result(nil), e.finished...)
}
