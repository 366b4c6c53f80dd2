// Package submission keeps submissions and problems in the database and
// drives (re)judging: it resolves queued task ids to tasks, records progress
// reported by workers and computes queue priorities.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/criyle/judge-gateway/priority"
	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements the task resolver and progress reporter on the database
type Store struct {
	db     *gorm.DB
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates the store, window is the range of recent judge time taken
// into account for priorities
func NewStore(db *gorm.DB, window time.Duration, logger *zap.Logger) *Store {
	if window <= 0 {
		window = time.Hour
	}
	return &Store{
		db:     db,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// PutProblem creates or replaces a problem
func (s *Store) PutProblem(ctx context.Context, p *Problem) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// Get returns a submission by id
func (s *Store) Get(ctx context.Context, id uint64) (*Submission, error) {
	var sub Submission
	err := s.db.WithContext(ctx).Preload("Problem").First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: submission %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ResolveTask returns the task of the active submission owning taskID.
// A superseded, cancelled or finished task resolves to nil.
func (s *Store) ResolveTask(ctx context.Context, taskID string, score float64) (*types.Task, error) {
	var sub Submission
	err := s.db.WithContext(ctx).Preload("Problem").
		Where("task_id = ? AND status IN ?", taskID, []Status{StatusPending, StatusJudging}).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.Problem == nil {
		s.logger.Warn("submission without problem", zap.Uint64("submission", sub.ID), zap.Uint64("problem", sub.ProblemID))
		return nil, nil
	}
	return sub.task(score), nil
}

// ReportProgress records progress of taskID. It returns false when the task is
// no longer the current task of an active submission.
func (s *Store) ReportProgress(ctx context.Context, taskID string, p *types.Progress) (bool, error) {
	var still bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub Submission
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("task_id = ?", taskID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !sub.active() {
			return nil
		}
		still = true

		updates := map[string]any{}
		switch p.Type {
		case types.ProgressStarted, types.ProgressCompiled, types.ProgressProgress:
			updates["status"] = StatusJudging
			if p.Detail != nil {
				updates["detail"] = JSONMap(p.Detail)
			}
		case types.ProgressFinished:
			now := s.now()
			updates["status"] = StatusFinished
			updates["result"] = p.Status
			updates["score"] = p.Score
			updates["total_occupied_time"] = p.TotalOccupiedTime
			updates["detail"] = JSONMap(p.Detail)
			updates["finish_time"] = &now
		default:
			return fmt.Errorf("unknown progress type %d", p.Type)
		}
		return tx.Model(&sub).Updates(updates).Error
	})
	if err != nil {
		return false, err
	}
	if ce := s.logger.Check(zap.DebugLevel, "progress"); ce != nil {
		ce.Write(zap.String("taskId", taskID), zap.Stringer("type", p.Type), zap.Bool("active", still))
	}
	return still, nil
}

// priority computes the queue score of sub from recent judge statistics
func (s *Store) priority(tx *gorm.DB, sub *Submission, class priority.Class) (float64, error) {
	var pending int64
	err := tx.Model(&Submission{}).
		Where("submitter_id = ? AND status IN ? AND id <> ?", sub.SubmitterID, []Status{StatusPending, StatusJudging}, sub.ID).
		Count(&pending).Error
	if err != nil {
		return 0, err
	}

	type usage struct {
		SubmitterID uint64
		Total       float64
	}
	var usages []usage
	err = tx.Model(&Submission{}).
		Select("submitter_id, SUM(total_occupied_time) AS total").
		Where("finish_time > ?", s.now().Add(-s.window)).
		Group("submitter_id").
		Scan(&usages).Error
	if err != nil {
		return 0, err
	}
	var (
		occupied float64
		totals   = make([]float64, 0, len(usages))
	)
	for _, u := range usages {
		totals = append(totals, u.Total)
		if u.SubmitterID == sub.SubmitterID {
			occupied = u.Total
		}
	}
	mean, stddev := priority.MeanStddev(totals)
	return priority.Score(sub.ID, int(pending), occupied, mean, stddev, class), nil
}
