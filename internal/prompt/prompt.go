package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/distantorigin/gamesync/internal/audio"
	"github.com/distantorigin/gamesync/internal/channel"
)

// SoundPlayer defines the interface for playing sounds
type SoundPlayer interface {
	Play(cue audio.Cue)
}

// Config holds configuration for prompting
type Config struct {
	NonInteractive bool
	Sound          SoundPlayer
	In             io.Reader
	Out            io.Writer
}

type prompter struct {
	cfg Config
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(cfg Config) *prompter {
	in, out := cfg.In, cfg.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &prompter{cfg: cfg, in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	response, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || response == "") {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

func (p *prompter) play(cue audio.Cue) {
	if p.cfg.Sound != nil {
		p.cfg.Sound.Play(cue)
	}
}

// WaitForKey waits for user to press Enter
func WaitForKey(prompt string, cfg Config) {
	if cfg.NonInteractive {
		return
	}
	p := newPrompter(cfg)
	fmt.Fprint(p.out, prompt)
	_, _ = p.readLine()
}

// Confirm asks the user to confirm an action
func Confirm(prompt string, cfg Config) bool {
	if cfg.NonInteractive {
		return true
	}

	p := newPrompter(cfg)
	fmt.Fprintf(p.out, "%s (y/n): ", prompt)
	response, err := p.readLine()
	if err != nil {
		return false
	}
	response = strings.ToLower(response)
	confirmed := response == "y" || response == "yes"

	if confirmed {
		p.play(audio.CueSuccess)
	} else if response == "n" || response == "no" {
		p.play(audio.CueCancelled)
	}
	return confirmed
}

// ChannelInfo provides info about a branch for display
type ChannelInfo struct {
	Current          string
	ReleaseLatest    int
	PreReleaseLatest int
}

// ChannelMenu displays an interactive menu to select the branch to follow.
// It returns the chosen branch, or "" when input ends without a choice.
func ChannelMenu(info ChannelInfo, cfg Config) string {
	if cfg.NonInteractive {
		return channel.Normalize(info.Current)
	}

	p := newPrompter(cfg)
	fmt.Fprintln(p.out, "\nBranch Selection")
	if info.Current != "" {
		fmt.Fprintf(p.out, "Currently following: %s\n", info.Current)
	}
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "  1. Release%s\n", latestSuffix(info.ReleaseLatest))
	fmt.Fprintln(p.out, "     Published builds, recommended for most players")
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "  2. Pre-release%s\n", latestSuffix(info.PreReleaseLatest))
	fmt.Fprintln(p.out, "     Early builds that may have bugs")
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "  3. Other")
	fmt.Fprintln(p.out, "     Type the name of another branch")
	fmt.Fprintln(p.out)
	fmt.Fprint(p.out, "Enter your choice (1, 2, or 3): ")

	for {
		response, err := p.readLine()
		if err != nil {
			fmt.Fprintln(p.out, "\nNo choice made.")
			return ""
		}

		switch response {
		case "1":
			p.play(audio.CueSuccess)
			return channel.Release
		case "2":
			p.play(audio.CueSuccess)
			return channel.PreRelease
		case "3":
			return p.branchName()
		default:
			fmt.Fprint(p.out, "Invalid choice. Please enter 1, 2, or 3: ")
		}
	}
}

func (p *prompter) branchName() string {
	fmt.Fprint(p.out, "Branch name: ")
	for {
		response, err := p.readLine()
		if err != nil {
			return ""
		}
		if err := channel.Validate(response); err != nil {
			fmt.Fprintf(p.out, "%v. Branch name: ", err)
			continue
		}
		branch := channel.Normalize(response)
		if !channel.IsBuiltIn(branch) {
			fmt.Fprintln(p.out, "\nWARNING: Other branches may be unstable!")
		}
		p.play(audio.CueSuccess)
		return branch
	}
}

func latestSuffix(v int) string {
	if v <= 0 {
		return ""
	}
	return fmt.Sprintf(" (latest: %d)", v)
}
