package session

import (
	"encoding/json"

	"github.com/distantorigin/gamesync/internal/version"
)

// Outcome is the terminal state of a session.
type Outcome int

const (
	Success Outcome = iota
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Method is how a session brought the instance to its target version.
type Method string

const (
	MethodNone  Method = "none"
	MethodPatch Method = "patch"
	MethodFull  Method = "full"
)

// Request asks for a branch at a version to be installed and optionally run.
type Request struct {
	Branch string
	// Version 0 means the latest published version.
	Version int
	// LaunchAfter is asked once the install succeeded; nil never launches.
	LaunchAfter func() bool
}

// Result is what a session reports when it ends.
type Result struct {
	ID       string         `json:"id"`
	State    Outcome        `json:"state"`
	Reason   string         `json:"reason,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Branch   string         `json:"branch"`
	From     int            `json:"from,omitempty"`
	Version  int            `json:"version,omitempty"`
	Path     string         `json:"path,omitempty"`
	Method   Method         `json:"method,omitempty"`
	Steps    []version.Step `json:"steps,omitempty"`
	Launched bool           `json:"launched"`

	Err error `json:"-"`
}

// Observer is told about every finished session.
type Observer interface {
	SessionFinished(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

func (f ObserverFunc) SessionFinished(r Result) { f(r) }
