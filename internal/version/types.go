package version

import "encoding/json"

// Step is one patch application, taking an install from From to To.
type Step struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// SequencePolicy expands a range from < to into patch steps.
type SequencePolicy interface {
	Steps(from, to int) []Step
}

// UnitSteps chains consecutive single-version patches.
type UnitSteps struct{}

func (UnitSteps) Steps(from, to int) []Step {
	steps := make([]Step, 0, to-from)
	for v := from; v < to; v++ {
		steps = append(steps, Step{From: v, To: v + 1})
	}
	return steps
}

// State is the installed condition of a branch.
type State int

const (
	NotInstalled State = iota
	UpdateAvailable
	UpToDate
)

func (s State) String() string {
	switch s {
	case NotInstalled:
		return "not_installed"
	case UpdateAvailable:
		return "update_available"
	case UpToDate:
		return "up_to_date"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// VersionStatus is a derived snapshot of a branch against the catalog.
type VersionStatus struct {
	Branch    string `json:"branch"`
	State     State  `json:"state"`
	Installed int    `json:"installed"`
	Latest    int    `json:"latest"`
}

// UpdateInfo describes an update waiting for an installed branch.
type UpdateInfo struct {
	Branch         string `json:"branch"`
	OldVersion     int    `json:"oldVersion"`
	NewVersion     int    `json:"newVersion"`
	HasOldUserData bool   `json:"hasOldUserData"`
}
