package patch

// State is the phase of the patch state machine.
type State int

const (
	Idle State = iota
	ProvisioningTool
	DownloadingPatch
	ApplyingPatch
	Verifying
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProvisioningTool:
		return "provisioning_tool"
	case DownloadingPatch:
		return "downloading_patch"
	case ApplyingPatch:
		return "applying_patch"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Progress stages.
const (
	StageTool     = "tool"
	StageDownload = "download"
	StageApply    = "apply"
	StageInstall  = "install"
	StageComplete = "complete"
)

// Progress is one update of a long-running operation.
type Progress struct {
	Stage      string `json:"stage"`
	Percent    int    `json:"percent"`
	BytesDone  int64  `json:"bytesDone,omitempty"`
	BytesTotal int64  `json:"bytesTotal,omitempty"`
	Step       int    `json:"step,omitempty"`
	Steps      int    `json:"steps,omitempty"`
	Message    string `json:"message"`
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// toolShare is the slice of overall progress given to tool provisioning.
const toolShare = 5

func emit(fn ProgressFunc, p Progress) {
	if fn == nil {
		return
	}
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	fn(p)
}

// stepWindow returns the progress range of step i out of n, after the tool
// share and before the final few percent.
func stepWindow(i, n int) (base, share int) {
	const span = 90
	share = span / n
	return toolShare + i*span/n, share
}
