package changelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/session"
	"github.com/distantorigin/gamesync/internal/version"
)

const (
	// ReportFile holds the report of the last session that changed an instance.
	ReportFile = "last-update.txt"
	// HistoryFile collects one line per finished session.
	HistoryFile = "update-history.log"
	// NotesFile is the release notes file a build may ship in its Client folder.
	NotesFile = "changelog.txt"
)

// FormatStep formats a patch step as a list entry
func FormatStep(s version.Step) string {
	return fmt.Sprintf("* Patch %d -> %d", s.From, s.To)
}

// FormatSteps lists the patch steps of an update
func FormatSteps(steps []version.Step) string {
	if len(steps) == 0 {
		return ""
	}

	var notes strings.Builder
	notes.WriteString("\nPatches applied:\n\n")
	for _, s := range steps {
		notes.WriteString(FormatStep(s) + "\n")
	}
	return notes.String()
}

// BuildConfig holds configuration for building a changelog
type BuildConfig struct {
	// NotesPath, when readable, is included as release notes.
	NotesPath string
	Now       time.Time
}

// Build creates a formatted report of a finished session
func Build(res session.Result, cfg BuildConfig) string {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	var changelog strings.Builder
	changelog.WriteString("Update Report\n\n")
	changelog.WriteString(fmt.Sprintf("Branch: %s\n", res.Branch))
	changelog.WriteString(fmt.Sprintf("Finished: %s\n", now.Format("2006-01-02 15:04:05")))
	changelog.WriteString(fmt.Sprintf("Result: %s\n", res.State))
	if res.Reason != "" {
		changelog.WriteString(fmt.Sprintf("Reason: %s\n", res.Reason))
	}

	switch res.Method {
	case session.MethodNone:
		changelog.WriteString(fmt.Sprintf("Version %d was already installed\n", res.Version))
	case session.MethodPatch:
		changelog.WriteString(fmt.Sprintf("Updated from version %d to %d by patching (%d steps)\n", res.From, res.Version, len(res.Steps)))
	case session.MethodFull:
		if res.From > 0 && res.From != res.Version {
			changelog.WriteString(fmt.Sprintf("Updated from version %d to %d with a full download\n", res.From, res.Version))
		} else {
			changelog.WriteString(fmt.Sprintf("Installed version %d with a full download\n", res.Version))
		}
	}
	if res.Path != "" {
		changelog.WriteString(fmt.Sprintf("Location: %s\n", res.Path))
	}

	if cfg.NotesPath != "" {
		if content, err := os.ReadFile(cfg.NotesPath); err == nil {
			changelog.WriteString("\n")
			changelog.WriteString(strings.Repeat("=", 60))
			changelog.WriteString("\n")
			changelog.WriteString("RELEASE NOTES\n")
			changelog.WriteString(strings.Repeat("=", 60))
			changelog.WriteString("\n\n")
			changelog.WriteString(strings.TrimRight(string(content), "\n"))
			changelog.WriteString("\n")
			changelog.WriteString(strings.Repeat("=", 60))
			changelog.WriteString("\n")
		}
	}

	if steps := FormatSteps(res.Steps); steps != "" {
		changelog.WriteString(steps)
	}

	return changelog.String()
}

// HistoryLine is the one-line summary appended to the history file
func HistoryLine(res session.Result, now time.Time) string {
	line := fmt.Sprintf("%s %s branch=%s version=%d", now.Format(time.RFC3339), res.State, res.Branch, res.Version)
	if res.Method != "" {
		line += " method=" + string(res.Method)
	}
	if res.Kind != "" {
		line += " kind=" + res.Kind
	}
	return line
}

// Journal records finished sessions under a directory.
type Journal struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewJournal creates a journal writing into dir.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

// SessionFinished appends the session to the history and, when it changed an
// instance, rewrites the report file.
func (j *Journal) SessionFinished(res session.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		log.WithError(err).Warn("failed to create journal directory")
		return
	}

	if err := appendLine(filepath.Join(j.dir, HistoryFile), HistoryLine(res, now)); err != nil {
		log.WithError(err).Warn("failed to append update history")
	}

	if res.State != session.Success || res.Method == session.MethodNone || res.Method == "" {
		return
	}
	report := Build(res, BuildConfig{NotesPath: filepath.Join(res.Path, "Client", NotesFile), Now: now})
	if err := os.WriteFile(j.ReportPath(), []byte(report), 0644); err != nil {
		log.WithError(err).Warn("failed to write update report")
	}
}

// ReportPath is where the latest report is written.
func (j *Journal) ReportPath() string {
	return filepath.Join(j.dir, ReportFile)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
