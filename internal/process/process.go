package process

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gops "github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/errdefs"
	"github.com/distantorigin/gamesync/internal/paths"
)

// Handle identifies a running game client.
type Handle struct {
	PID       int32     `json:"pid"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"startedAt"`

	// done is closed when a client this process started has been reaped.
	done chan struct{}
}

// Exited reports whether a client started by this process has exited.
func (h *Handle) Exited() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Controller owns the running game process.
type Controller struct {
	instanceRoot string
	binary       string

	// Grace is how long ExitGame waits after asking the client to quit
	// before killing it.
	Grace time.Duration

	terminate func(*gops.Process) error
	kill      func(*gops.Process) error

	mu     sync.Mutex
	handle *Handle
}

// NewController creates a controller for clients named binary living under
// instanceRoot.
func NewController(instanceRoot, binary string) *Controller {
	return &Controller{
		instanceRoot: instanceRoot,
		binary:       binary,
		Grace:        5 * time.Second,
		terminate:    (*gops.Process).Terminate,
		kill:         (*gops.Process).Kill,
	}
}

// Launch starts the client executable at exe from its own directory and
// records it as the running game. It refuses while a game is running.
func (c *Controller) Launch(exe string, args []string) (*Handle, error) {
	if c.IsGameRunning() {
		return nil, errdefs.Wrap(errdefs.ErrOperationInProgress, "launch game", fmt.Errorf("game is already running"))
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = filepath.Dir(exe)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch game: %w", err)
	}

	h := &Handle{
		PID:       int32(cmd.Process.Pid),
		Path:      exe,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		log.WithField("pid", h.PID).WithError(err).Info("game exited")
		close(h.done)
	}()

	c.SetGameProcess(h)
	log.WithField("pid", h.PID).WithField("path", exe).Info("game launched")
	return h, nil
}

// SetGameProcess records h as the running game. A nil h clears it.
func (c *Controller) SetGameProcess(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = h
}

// GetGameProcess returns the recorded game, or nil.
func (c *Controller) GetGameProcess() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// IsGameRunning reports whether the recorded game is still alive. A game that
// exited, including one closed outside this process, is forgotten.
func (c *Controller) IsGameRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return false
	}
	if c.handle.Exited() || !alive(c.handle.PID) {
		c.handle = nil
		return false
	}
	return true
}

// CheckForRunningGame looks for a client started outside this process, for
// example by an earlier run, and adopts the first one found.
func (c *Controller) CheckForRunningGame() (*Handle, bool) {
	if c.IsGameRunning() {
		return c.GetGameProcess(), true
	}

	procs, err := gops.Processes()
	if err != nil {
		log.WithError(err).Debug("failed to list processes")
		return nil, false
	}
	for _, p := range procs {
		if !c.matches(p) {
			continue
		}
		exe, _ := p.Exe()
		h := &Handle{PID: p.Pid, Path: exe}
		if created, err := p.CreateTime(); err == nil {
			h.StartedAt = time.UnixMilli(created)
		}
		c.SetGameProcess(h)
		log.WithField("pid", h.PID).Info("found running game")
		return h, true
	}
	return nil, false
}

func (c *Controller) matches(p *gops.Process) bool {
	name, err := p.Name()
	if err != nil || !strings.EqualFold(name, c.binary) {
		return false
	}
	exe, err := p.Exe()
	if err != nil || exe == "" {
		// Executable paths of other users' processes may be unreadable.
		return true
	}
	return c.instanceRoot == "" || paths.IsWithin(c.instanceRoot, exe)
}

// ExitGame asks the running game to quit and kills it if it is still alive
// after the grace period. It reports whether the game is gone; a game that
// survives the kill stays recorded.
func (c *Controller) ExitGame() bool {
	h := c.GetGameProcess()
	if h == nil || !c.IsGameRunning() {
		return false
	}

	logger := log.WithField("pid", h.PID)
	p, err := gops.NewProcess(h.PID)
	if err != nil {
		c.SetGameProcess(nil)
		return false
	}

	if err := c.terminate(p); err != nil {
		logger.WithError(err).Debug("terminate failed")
	}
	if !waitExit(h, c.Grace) {
		logger.Warn("game did not exit in time, killing it")
		if err := c.kill(p); err != nil {
			logger.WithError(err).Warn("kill failed")
		}
		if !waitExit(h, c.Grace) {
			logger.Error("failed to stop game")
			return false
		}
	}

	c.SetGameProcess(nil)
	logger.Info("game stopped")
	return true
}

func waitExit(h *Handle, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if gone(h) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return gone(h)
}

func gone(h *Handle) bool {
	return h.Exited() || (h.done == nil && !alive(h.PID))
}

func alive(pid int32) bool {
	ok, err := gops.PidExists(pid)
	if err != nil || !ok {
		return false
	}
	p, err := gops.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	// A zombie has exited but is not reaped yet.
	if status, err := p.Status(); err == nil {
		for _, s := range status {
			if s == gops.Zombie {
				return false
			}
		}
	}
	return true
}
