package submission

import (
	"time"

	"github.com/criyle/judge-gateway/types"
)

// Status is the judging state of a submission
type Status string

// Submission states
const (
	StatusPending  Status = "Pending"  // queued, not yet started by a worker
	StatusJudging  Status = "Judging"  // a worker reported start
	StatusFinished Status = "Finished" // final result stored
	StatusCanceled Status = "Canceled"
)

// Problem holds what a worker needs besides the submission itself
type Problem struct {
	ID        uint64            `gorm:"primaryKey" json:"id"`
	Type      types.ProblemType `gorm:"size:32" json:"type"`
	JudgeInfo JSONMap           `json:"judgeInfo"`
	TestData  FileMap           `json:"testData"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Submission is a single submission. TaskID names its current judge task and
// is replaced on every rejudge.
type Submission struct {
	ID          uint64   `gorm:"primaryKey" json:"id"`
	TaskID      string   `gorm:"size:36;index" json:"taskId"`
	SubmitterID uint64   `gorm:"index" json:"submitterId"`
	ProblemID   uint64   `gorm:"index" json:"problemId"`
	Problem     *Problem `json:"-"`

	Language             string  `gorm:"size:32" json:"language,omitempty"`
	Code                 string  `json:"code,omitempty"`
	CompileAndRunOptions JSONMap `json:"compileAndRunOptions,omitempty"`
	AnswerFileID         string  `gorm:"size:64" json:"answerFileId,omitempty"`

	Status            Status               `gorm:"size:16;index" json:"status"`
	Result            types.ProgressStatus `gorm:"size:32" json:"result,omitempty"`
	Score             *float64             `json:"score,omitempty"`
	TotalOccupiedTime int64                `json:"totalOccupiedTime"`
	Detail            JSONMap              `json:"detail,omitempty"`
	Priority          float64              `json:"priority"`

	SubmitTime time.Time  `gorm:"index" json:"submitTime"`
	FinishTime *time.Time `gorm:"index" json:"finishTime,omitempty"`
}

func (s *Submission) active() bool {
	return s.Status == StatusPending || s.Status == StatusJudging
}

// task builds the judge task of the submission
func (s *Submission) task(score float64) *types.Task {
	p := s.Problem
	t := &types.Task{
		TaskID:   s.TaskID,
		Priority: score,
		ExtraInfo: types.ExtraInfo{
			ProblemType: p.Type,
			JudgeInfo:   p.JudgeInfo,
			TestData:    p.TestData,
		},
	}
	code := &types.SourceCode{
		Language:             s.Language,
		Code:                 s.Code,
		CompileAndRunOptions: s.CompileAndRunOptions,
	}
	switch p.Type {
	case types.ProblemTypeTraditional:
		t.ExtraInfo.Traditional = code
	case types.ProblemTypeInteraction:
		t.ExtraInfo.Interaction = code
	case types.ProblemTypeSubmitAnswer:
		t.ExtraInfo.SubmitAnswer = &types.AnswerFileRef{AnswerFileID: s.AnswerFileID}
	}
	return t
}
