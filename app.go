package main

import (
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/audio"
	"github.com/distantorigin/gamesync/internal/butler"
	"github.com/distantorigin/gamesync/internal/catalog"
	"github.com/distantorigin/gamesync/internal/changelog"
	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/config"
	"github.com/distantorigin/gamesync/internal/download"
	"github.com/distantorigin/gamesync/internal/instance"
	"github.com/distantorigin/gamesync/internal/logging"
	"github.com/distantorigin/gamesync/internal/mods"
	"github.com/distantorigin/gamesync/internal/patch"
	"github.com/distantorigin/gamesync/internal/process"
	"github.com/distantorigin/gamesync/internal/prompt"
	"github.com/distantorigin/gamesync/internal/service"
	"github.com/distantorigin/gamesync/internal/session"
	"github.com/distantorigin/gamesync/internal/version"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg *config.Config

	resolver *version.Resolver
	store    *instance.Store
	game     *process.Controller
	sessions *session.Orchestrator
	mods     *mods.Manager
	player   *audio.Player
	journal  *changelog.Journal
}

// newApp loads configuration, initializes logging and wires every component.
// With sessionSounds the player cues every finished session itself.
func newApp(sessionSounds bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if quietFlag {
		cfg.Quiet = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	// Artifact downloads have no overall timeout
	catalogClient := catalog.NewClient(cfg.CatalogURL, cfg.OS, cfg.Arch, &http.Client{
		Timeout:   30 * time.Second,
		Transport: newTransport(),
	})
	dl := download.NewClient(&http.Client{Transport: newTransport()}, cfg.ProbeRetries)

	resolver := version.NewResolver(catalogClient, cfg.VersionCacheTTL)
	store := instance.NewStore(cfg.InstanceRoot, cfg.ClientBinary)
	game := process.NewController(cfg.InstanceRoot, cfg.ClientBinary)

	patcher := patch.NewManager(patch.Config{
		Sequencer:    resolver,
		Artifacts:    catalogClient,
		Downloader:   dl,
		Tool:         butler.NewProvisioner(cfg.ToolsDir, cfg.ButlerURL, dl),
		Store:        store,
		MaxPatchSize: patch.DefaultMaxPatchSize,
	})

	a := &app{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		game:     game,
		mods:     mods.NewManager(),
		player:   audio.NewPlayer(cfg.Quiet, 0),
		journal:  changelog.NewJournal(filepath.Join(config.DataDir(), "logs")),
	}
	observers := []session.Observer{a.journal}
	if sessionSounds {
		observers = append(observers, a.player)
	}
	a.sessions = session.New(session.Config{
		Versions:   resolver,
		Store:      store,
		Patcher:    patcher,
		Launcher:   game,
		LaunchArgs: cfg.LaunchArgs,
		Observers:  observers,
	})

	log.WithFields(log.Fields{
		"root":    cfg.InstanceRoot,
		"catalog": cfg.CatalogURL,
	}).Debug("engine ready")
	return a, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// service exposes the engine to a front-end.
func (a *app) service() *service.Service {
	return service.New(service.Config{
		Versions: a.resolver,
		Store:    a.store,
		Sessions: a.sessions,
		Game:     a.game,
		Mods:     mods.Disabled{Manager: a.mods},
	})
}

// branch picks the branch a command acts on: the flag, then the followed
// branch, then the configured default.
func (a *app) branch(flag string) (string, error) {
	branch := flag
	if branch == "" {
		if saved, err := channel.Load(config.DataDir()); err == nil && saved != "" {
			branch = saved
		} else {
			branch = a.cfg.Branch
		}
	}
	branch = channel.Normalize(branch)
	if err := channel.Validate(branch); err != nil {
		return "", err
	}
	return branch, nil
}

func (a *app) prompts() prompt.Config {
	return prompt.Config{NonInteractive: yesFlag, Sound: a.player}
}
