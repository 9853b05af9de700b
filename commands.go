package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/audio"
	"github.com/distantorigin/gamesync/internal/bridge"
	"github.com/distantorigin/gamesync/internal/changelog"
	"github.com/distantorigin/gamesync/internal/channel"
	"github.com/distantorigin/gamesync/internal/config"
	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/mods"
	"github.com/distantorigin/gamesync/internal/patch"
	"github.com/distantorigin/gamesync/internal/prompt"
	"github.com/distantorigin/gamesync/internal/service"
	"github.com/distantorigin/gamesync/internal/session"
	"github.com/distantorigin/gamesync/internal/shortcut"
)

func runSession(ctx context.Context) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	branch, err := a.branch(branchFlag)
	if err != nil {
		return err
	}
	if versionFlag < 0 {
		return fmt.Errorf("invalid version %d", versionFlag)
	}

	if h, running := a.game.CheckForRunningGame(); running && !a.cfg.Quiet {
		fmt.Printf("The game is already running (pid %d), it will not be started again.\n", h.PID)
	}
	if !a.cfg.Quiet {
		fmt.Printf("Checking %s for updates...\n", branch)
	}

	res := a.sessions.DownloadAndLaunch(ctx, session.Request{
		Branch:      branch,
		Version:     versionFlag,
		LaunchAfter: func() bool { return !noLaunch },
	}, a.printProgress)
	if !a.cfg.Quiet {
		fmt.Println()
	}
	a.player.Play(audio.CueFor(res.State))

	switch res.State {
	case session.Success:
		if !a.cfg.Quiet {
			printResult(res)
		}
		return nil
	case session.Cancelled:
		return errors.New("update cancelled")
	default:
		if errors.Is(res.Err, errdefs.ErrOperationInProgress) {
			return errors.New("another update of this branch is already running")
		}
		prompt.WaitForKey("\nPress Enter to exit...", a.prompts())
		return fmt.Errorf("update failed: %s", res.Reason)
	}
}

func (a *app) printProgress(p patch.Progress) {
	if a.cfg.Quiet {
		return
	}
	line := fmt.Sprintf("%3d%% %s", p.Percent, p.Message)
	if p.BytesTotal > 0 {
		line += fmt.Sprintf(" (%d/%d MB)", p.BytesDone/1024/1024, p.BytesTotal/1024/1024)
	}
	fmt.Printf("\r%-72s", line)
}

func printResult(res session.Result) {
	switch res.Method {
	case session.MethodNone:
		fmt.Printf("Version %d of %s is up to date.\n", res.Version, res.Branch)
	case session.MethodPatch:
		fmt.Printf("Updated %s from version %d to %d.\n", res.Branch, res.From, res.Version)
		fmt.Print(changelog.FormatSteps(res.Steps))
	case session.MethodFull:
		fmt.Printf("Installed version %d of %s.\n", res.Version, res.Branch)
	}
	switch {
	case res.Launched:
		fmt.Println("Launching game...")
	case res.Reason != "":
		fmt.Printf("Not launching: %s.\n", res.Reason)
	}
}

func showStatus(ctx context.Context) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	branch, err := a.branch(branchFlag)
	if err != nil {
		return err
	}

	status, err := a.resolver.GetVersionStatus(ctx, branch, a.store)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", branch, err)
	}
	if jsonFlag {
		return printJSON(status)
	}
	fmt.Printf("Branch:    %s\n", status.Branch)
	fmt.Printf("State:     %s\n", status.State)
	fmt.Printf("Installed: %s\n", versionText(status.Installed))
	fmt.Printf("Latest:    %s\n", versionText(status.Latest))

	info, err := a.resolver.GetPendingUpdateInfo(ctx, branch, a.store)
	if err != nil {
		return fmt.Errorf("failed to check pending update: %w", err)
	}
	if info != nil {
		fmt.Printf("\nUpdate available: %d -> %d\n", info.OldVersion, info.NewVersion)
		if info.HasOldUserData {
			fmt.Println("Your settings and worlds will be carried over.")
		}
	}
	return nil
}

func versionText(v int) string {
	if v <= 0 {
		return "none"
	}
	return strconv.Itoa(v)
}

func listInstances() error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(a.service().Instances().Data)
	}
	list := a.store.GetInstalledInstances()
	if len(list) == 0 {
		fmt.Println("No instances installed.")
		return nil
	}
	for _, inst := range list {
		marker := " "
		if v, ok := a.store.LatestVersion(inst.Branch); ok && v == inst.Version {
			marker = "*"
		}
		state := "ok"
		if !inst.ClientPresent {
			state = "incomplete"
		}
		fmt.Printf("%s %-12s %6d  %-10s %s\n", marker, inst.Branch, inst.Version, state, inst.Path)
	}
	return nil
}

func parseVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

// responseError turns a failed service Response into an error.
func responseError(resp service.Response) error {
	if resp.OK {
		return nil
	}
	return errors.New(resp.Error)
}

func deleteInstance(branch, v string) error {
	ver, err := parseVersion(v)
	if err != nil {
		return err
	}
	a, err := newApp(false)
	if err != nil {
		return err
	}
	a.game.CheckForRunningGame()

	branch = channel.Normalize(branch)
	if !prompt.Confirm(fmt.Sprintf("Delete %s version %d and its user data?", branch, ver), a.prompts()) {
		fmt.Println("Nothing deleted.")
		return nil
	}
	svc := a.service()
	defer svc.Shutdown()
	if err := responseError(svc.DeleteInstance(branch, ver)); err != nil {
		return err
	}
	fmt.Printf("Deleted %s version %d.\n", branch, ver)
	return nil
}

// instancePath finds the instance a mods command acts on.
func (a *app) instancePath(branch, v string) (string, error) {
	ver, err := parseVersion(v)
	if err != nil {
		return "", err
	}
	inst, ok := a.store.FindInstance(channel.Normalize(branch), ver)
	if !ok {
		return "", fmt.Errorf("%s version %d is not installed", branch, ver)
	}
	return inst.Path, nil
}

func listMods(branch, v string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	ver, err := parseVersion(v)
	if err != nil {
		return err
	}
	svc := a.service()
	defer svc.Shutdown()
	resp := svc.InstalledMods(channel.Normalize(branch), ver)
	if err := responseError(resp); err != nil {
		return err
	}

	list, _ := resp.Data.([]mods.InstalledMod)
	if len(list) == 0 {
		fmt.Println("No mods installed.")
		return nil
	}
	mods.SortByName(list)
	for _, m := range list {
		state := "enabled"
		if !m.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-40s %-24s %-10s %-8s %s\n", m.ID, m.Name, m.Version, state, m.FileName)
	}
	return nil
}

func addMod(branch, v, file string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	path, err := a.instancePath(branch, v)
	if err != nil {
		return err
	}
	m, err := a.mods.InstallLocal(path, file)
	if err != nil {
		return err
	}
	fmt.Printf("Installed %s %s (%s).\n", m.Name, m.Version, m.ID)
	return nil
}

func toggleMod(branch, v, id string, enabled bool) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	path, err := a.instancePath(branch, v)
	if err != nil {
		return err
	}
	return a.mods.SetEnabled(path, id, enabled)
}

func removeMod(branch, v, id string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	path, err := a.instancePath(branch, v)
	if err != nil {
		return err
	}
	if !prompt.Confirm("Remove mod "+id+"?", a.prompts()) {
		return nil
	}
	return a.mods.Remove(path, id)
}

func migrate() error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	if err := a.store.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("Instances under %s are up to date.\n", a.store.Root())
	return nil
}

func exitGame() error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	if _, running := a.game.CheckForRunningGame(); !running {
		fmt.Println("The game is not running.")
		return nil
	}
	if !a.game.ExitGame() {
		return errors.New("failed to stop the game")
	}
	fmt.Println("Game stopped.")
	return nil
}

func serve(ctx context.Context) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	a.game.CheckForRunningGame()

	var t bridge.Transport
	switch strings.ToLower(transport) {
	case "stdio":
		t = bridge.NewStdio(os.Stdin, os.Stdout)
	case "ws", "websocket":
		addr := listenAddr
		if addr == "" {
			addr = a.cfg.ListenAddr
		}
		t = bridge.NewWebSocket(addr)
	default:
		return fmt.Errorf("unknown transport %q", transport)
	}

	svc := a.service()
	service.Register(svc, t)
	log.WithField("transport", transport).Info("serving")

	err = t.Serve(ctx)
	svc.Shutdown()
	a.player.StopAll()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func switchBranch(ctx context.Context, branch string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	current, _ := a.branch("")

	if branch == "" {
		if yesFlag {
			return errors.New("a branch must be given in non-interactive mode")
		}
		info := prompt.ChannelInfo{Current: current}
		if v, err := a.resolver.Latest(ctx, channel.Release); err == nil {
			info.ReleaseLatest = v
		}
		if v, err := a.resolver.Latest(ctx, channel.PreRelease); err == nil {
			info.PreReleaseLatest = v
		}
		branch = prompt.ChannelMenu(info, a.prompts())
		if branch == "" {
			return nil
		}
	}

	branch = channel.Normalize(branch)
	if err := channel.Validate(branch); err != nil {
		return err
	}
	if branch == current {
		fmt.Printf("Already following %s.\n", branch)
		return nil
	}
	if err := channel.Save(config.DataDir(), branch); err != nil {
		return fmt.Errorf("failed to save branch: %w", err)
	}
	fmt.Printf("Now following %s.\n", branch)
	if !channel.IsBuiltIn(branch) {
		if _, err := a.resolver.Latest(ctx, branch); err != nil {
			fmt.Printf("WARNING: %s has no published versions right now.\n", branch)
		}
	}
	return nil
}

func createShortcut() error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	branch, err := a.branch(branchFlag)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to locate home directory: %w", err)
	}
	dir, err := shortcut.DesktopDir(home)
	if err != nil {
		return err
	}
	link, err := shortcut.Create(dir, shortcut.ForBranch(exe, branch))
	if err != nil {
		return err
	}
	fmt.Printf("Created %s\n", link)
	return nil
}

// writeConfig saves defaults, file values and GAMESYNC_* overrides as one
// file so they can be edited in place.
func writeConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.SaveTo(cfg, cfgFile); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	path := cfgFile
	if path == "" {
		path = filepath.Join(config.DataDir(), "gamesync.yaml")
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// printJSON writes v as indented JSON for scripts.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
