package types

// ProgressType defines type of progress message
type ProgressType int

// ProgressType defines type of progress messages
const (
	ProgressStarted ProgressType = iota + 1
	ProgressCompiled
	ProgressProgress
	ProgressFinished
)

func (t ProgressType) String() string {
	switch t {
	case ProgressStarted:
		return "started"
	case ProgressCompiled:
		return "compiled"
	case ProgressProgress:
		return "progress"
	case ProgressFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ProgressStatus is the coarse result carried by a progress report
type ProgressStatus string

// Final statuses reported with ProgressFinished
const (
	StatusAccepted         ProgressStatus = "Accepted"
	StatusWrongAnswer      ProgressStatus = "WrongAnswer"
	StatusPartiallyCorrect ProgressStatus = "PartiallyCorrect"
	StatusCompilationError ProgressStatus = "CompilationError"
	StatusSystemError      ProgressStatus = "SystemError"
	StatusCanceled         ProgressStatus = "Canceled"
)

// Progress contains progress of current task reported by a judge client
type Progress struct {
	Type    ProgressType   `json:"progressType" codec:"progressType"`
	Status  ProgressStatus `json:"status,omitempty" codec:"status,omitempty"`
	Score   *float64       `json:"score,omitempty" codec:"score,omitempty"`
	Message string         `json:"message,omitempty" codec:"message,omitempty"`

	// total time spent on the task in ms, used for fairness of later submissions
	TotalOccupiedTime int64 `json:"totalOccupiedTime,omitempty" codec:"totalOccupiedTime,omitempty"`

	// free-form detail (subtask / testcase results)
	Detail map[string]any `json:"detail,omitempty" codec:"detail,omitempty"`
}
