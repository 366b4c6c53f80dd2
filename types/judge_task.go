package types

import (
	"errors"
	"fmt"
)

// ProblemType defines which variant of ExtraInfo a task carries
type ProblemType string

// Problem types understood by judge clients
const (
	ProblemTypeTraditional  ProblemType = "Traditional"
	ProblemTypeInteraction  ProblemType = "Interaction"
	ProblemTypeSubmitAnswer ProblemType = "SubmitAnswer"
)

var (
	errUnknownProblemType = errors.New("unknown problem type")
	errVariantMismatch    = errors.New("extra info variant does not match problem type")
)

// Task is a single judging attempt for a submission.
// TaskID is regenerated on every (re)judge so stale copies can be told apart.
type Task struct {
	TaskID    string    `json:"taskId" codec:"taskId"`
	Priority  float64   `json:"priority" codec:"priority"`
	ExtraInfo ExtraInfo `json:"extraInfo" codec:"extraInfo"`
}

// ExtraInfo contains everything a judge client needs to run the task.
// Exactly one of the variant fields is set, selected by ProblemType.
type ExtraInfo struct {
	ProblemType ProblemType       `json:"problemType" codec:"problemType"`
	JudgeInfo   map[string]any    `json:"judgeInfo" codec:"judgeInfo"`
	TestData    map[string]string `json:"testData" codec:"testData"` // file name -> file id

	Traditional  *SourceCode    `json:"traditional,omitempty" codec:"traditional,omitempty"`
	Interaction  *SourceCode    `json:"interaction,omitempty" codec:"interaction,omitempty"`
	SubmitAnswer *AnswerFileRef `json:"submitAnswer,omitempty" codec:"submitAnswer,omitempty"`
}

// SourceCode defines submitted code with its language
type SourceCode struct {
	Language             string         `json:"language" codec:"language"`
	Code                 string         `json:"code" codec:"code"`
	CompileAndRunOptions map[string]any `json:"compileAndRunOptions,omitempty" codec:"compileAndRunOptions,omitempty"`
}

// AnswerFileRef references an uploaded answer archive in the file store
type AnswerFileRef struct {
	AnswerFileID string `json:"answerFileId" codec:"answerFileId"`
}

// Validate checks the tagged union is well formed
func (e *ExtraInfo) Validate() error {
	var set int
	for _, ok := range []bool{e.Traditional != nil, e.Interaction != nil, e.SubmitAnswer != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d variants set", errVariantMismatch, set)
	}
	switch e.ProblemType {
	case ProblemTypeTraditional:
		if e.Traditional == nil {
			return fmt.Errorf("%w: %s", errVariantMismatch, e.ProblemType)
		}
	case ProblemTypeInteraction:
		if e.Interaction == nil {
			return fmt.Errorf("%w: %s", errVariantMismatch, e.ProblemType)
		}
	case ProblemTypeSubmitAnswer:
		if e.SubmitAnswer == nil || e.SubmitAnswer.AnswerFileID == "" {
			return fmt.Errorf("%w: %s", errVariantMismatch, e.ProblemType)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownProblemType, e.ProblemType)
	}
	return nil
}

// FileIDs returns every file id the task refers to
func (e *ExtraInfo) FileIDs() []string {
	ids := make([]string, 0, len(e.TestData)+1)
	for _, id := range e.TestData {
		ids = append(ids, id)
	}
	if e.SubmitAnswer != nil {
		ids = append(ids, e.SubmitAnswer.AnswerFileID)
	}
	return ids
}
