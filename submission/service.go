package submission

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/criyle/judge-gateway/lock"
	"github.com/criyle/judge-gateway/priority"
	"github.com/criyle/judge-gateway/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned for an unknown submission or problem
	ErrNotFound = errors.New("submission: not found")

	// ErrInvalid is returned for a submission not matching its problem type
	ErrInvalid = errors.New("submission: invalid")
)

// Enqueuer puts tasks into the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string, score float64, isRequeue bool) error
}

// Canceler cancels a task on whichever worker holds it
type Canceler interface {
	Cancel(ctx context.Context, taskID string) error
}

// Locker provides cluster wide locks
type Locker interface {
	Lock(ctx context.Context, name string, body func(context.Context) error) error
	LockReadWrite(ctx context.Context, name string, mode lock.Mode, body func(context.Context) error) error
}

// Config is the service configuration
type Config struct {
	Store    *Store
	Queue    Enqueuer
	Canceler Canceler
	Locker   Locker
	Logger   *zap.Logger
}

// Service submits, rejudges and cancels submissions
type Service struct {
	store    *Store
	queue    Enqueuer
	canceler Canceler
	locker   Locker
	logger   *zap.Logger
}

// NewService creates the submission service
func NewService(conf Config) *Service {
	return &Service{
		store:    conf.Store,
		queue:    conf.Queue,
		canceler: conf.Canceler,
		locker:   conf.Locker,
		logger:   conf.Logger,
	}
}

func problemLockName(id uint64) string {
	return "problem:" + strconv.FormatUint(id, 10)
}

func submissionLockName(id uint64) string {
	return "submission:" + strconv.FormatUint(id, 10)
}

// Submit stores a new submission and queues it
func (s *Service) Submit(ctx context.Context, sub *Submission) error {
	var p Problem
	err := s.store.db.WithContext(ctx).First(&p, sub.ProblemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: problem %d", ErrNotFound, sub.ProblemID)
	}
	if err != nil {
		return err
	}
	sub.ID = 0
	sub.Problem = &p
	sub.Status = StatusPending
	sub.SubmitTime = s.store.now()
	sub.TaskID = uuid.NewString()
	if err := sub.task(0).ExtraInfo.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	err = s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Problem").Create(sub).Error; err != nil {
			return err
		}
		score, err := s.store.priority(tx, sub, priority.ClassNewSubmission)
		if err != nil {
			return err
		}
		sub.Priority = score
		return tx.Model(sub).Update("priority", score).Error
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := s.queue.Enqueue(ctx, sub.TaskID, sub.Priority, false); err != nil {
		return err
	}
	s.logger.Info("submission queued", zap.Uint64("submission", sub.ID), zap.String("taskId", sub.TaskID), zap.Float64("priority", sub.Priority))
	return nil
}

// Rejudge judges the submission again with a new task id, cancelling the old one
func (s *Service) Rejudge(ctx context.Context, id uint64, class priority.Class) error {
	var sub Submission
	err := s.store.db.WithContext(ctx).Select("id", "problem_id").First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: submission %d", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return s.locker.LockReadWrite(ctx, problemLockName(sub.ProblemID), lock.Read, func(ctx context.Context) error {
		return s.rejudge(ctx, id, class)
	})
}

// RejudgeProblem rejudges every submission of the problem in the background class.
// It returns the number of submissions queued.
func (s *Service) RejudgeProblem(ctx context.Context, problemID uint64) (int, error) {
	var n int
	err := s.locker.LockReadWrite(ctx, problemLockName(problemID), lock.Write, func(ctx context.Context) error {
		var ids []uint64
		if err := s.store.db.WithContext(ctx).Model(&Submission{}).
			Where("problem_id = ?", problemID).Order("id").Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.rejudge(ctx, id, priority.ClassBackgroundRejudge); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Service) rejudge(ctx context.Context, id uint64, class priority.Class) error {
	return s.locker.Lock(ctx, submissionLockName(id), func(ctx context.Context) error {
		var (
			sub     Submission
			oldTask string
		)
		err := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&sub, id).Error; err != nil {
				return err
			}
			if sub.active() {
				oldTask = sub.TaskID
			}
			sub.TaskID = uuid.NewString()
			score, err := s.store.priority(tx, &sub, class)
			if err != nil {
				return err
			}
			sub.Priority = score
			return tx.Model(&sub).Updates(map[string]any{
				"task_id":             sub.TaskID,
				"status":              StatusPending,
				"result":              "",
				"score":               nil,
				"total_occupied_time": 0,
				"detail":              nil,
				"finish_time":         nil,
				"priority":            score,
			}).Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: submission %d", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("rejudge %d: %w", id, err)
		}
		if oldTask != "" {
			if err := s.canceler.Cancel(ctx, oldTask); err != nil {
				s.logger.Warn("failed to cancel superseded task", zap.String("taskId", oldTask), zap.Error(err))
			}
		}
		if err := s.queue.Enqueue(ctx, sub.TaskID, sub.Priority, false); err != nil {
			return err
		}
		s.logger.Info("submission rejudge queued", zap.Uint64("submission", id), zap.String("taskId", sub.TaskID), zap.Int("class", int(class)))
		return nil
	})
}

// CancelSubmission stops judging of the submission
func (s *Service) CancelSubmission(ctx context.Context, id uint64) error {
	return s.locker.Lock(ctx, submissionLockName(id), func(ctx context.Context) error {
		var sub Submission
		err := s.store.db.WithContext(ctx).First(&sub, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: submission %d", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if !sub.active() {
			return nil
		}
		if err := s.store.db.WithContext(ctx).Model(&sub).Update("status", StatusCanceled).Error; err != nil {
			return err
		}
		s.logger.Info("submission cancelled", zap.Uint64("submission", id), zap.String("taskId", sub.TaskID))
		return s.canceler.Cancel(ctx, sub.TaskID)
	})
}
