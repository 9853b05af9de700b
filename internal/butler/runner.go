package butler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/errdefs"
)

// stderrTail bounds how much tool output is kept for error reports.
const stderrTail = 2048

// message is one line of the tool's --json output.
type message struct {
	Type     string  `json:"type"`
	Level    string  `json:"level"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// Runner invokes the patch tool.
type Runner struct{}

// Apply runs `butler apply` to transform targetDir with patchFile, using
// stagingDir as scratch space. The invocation is always waited for: once
// started, the tool is never killed part-way through a patch, so a
// cancellation only takes effect after it exits.
func (Runner) Apply(ctx context.Context, tool, patchFile, targetDir, stagingDir string, progress ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return errdefs.FromContext("apply patch", err)
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "prepare patch target", err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return errdefs.Wrap(errdefs.ErrDisk, "prepare patch staging", err)
	}

	cmd := exec.Command(tool, "apply", "--json", "--staging-dir", stagingDir, patchFile, targetDir)
	cmd.Dir = targetDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errdefs.Wrap(errdefs.ErrToolFailed, "apply patch", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr

	logger := log.WithField("patch", patchFile)
	logger.Debugf("running %s apply", tool)
	if err := cmd.Start(); err != nil {
		return errdefs.Wrap(errdefs.ErrToolFailed, "start patch tool", err)
	}

	var toolErr string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Debugf("butler: %s", line)
			continue
		}
		switch msg.Type {
		case "progress":
			report(progress, int(msg.Progress*100), "Applying patch...")
		case "error":
			toolErr = msg.Message
		case "log":
			if msg.Level == "error" {
				toolErr = msg.Message
			}
			logger.Debugf("butler: %s", msg.Message)
		}
	}
	// Keep the pipe drained so the tool can finish writing.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = toolErr
		}
		return errdefs.Wrap(errdefs.ErrToolFailed, "apply patch", fmt.Errorf("%w: %s", err, detail))
	}

	report(progress, 100, "Patch applied")
	return nil
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.buf.Write(p)
	if over := t.buf.Len() - stderrTail; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
