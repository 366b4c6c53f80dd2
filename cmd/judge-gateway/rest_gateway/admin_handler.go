// Package restgateway provides the admin and file REST api of the gateway
package restgateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/criyle/judge-gateway/gateway"
	"github.com/criyle/judge-gateway/lock"
	"github.com/criyle/judge-gateway/priority"
	"github.com/criyle/judge-gateway/submission"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Submissions mutates submissions
type Submissions interface {
	Submit(ctx context.Context, sub *submission.Submission) error
	Rejudge(ctx context.Context, id uint64, class priority.Class) error
	RejudgeProblem(ctx context.Context, problemID uint64) (int, error)
	CancelSubmission(ctx context.Context, id uint64) error
}

// Store reads submissions and writes problems
type Store interface {
	Get(ctx context.Context, id uint64) (*submission.Submission, error)
	PutProblem(ctx context.Context, p *submission.Problem) error
}

// TaskCanceler cancels a task by id
type TaskCanceler interface {
	Cancel(ctx context.Context, taskID string) error
}

// Workers lists sessions connected to this process
type Workers interface {
	List() []gateway.SessionInfo
}

// SystemInfo returns the last reported system information of every worker
type SystemInfo interface {
	SystemInfo(ctx context.Context) (map[string]map[string]any, error)
}

// AdminConfig defines the collaborators of the admin api
type AdminConfig struct {
	Submissions Submissions
	Store       Store
	Tasks       TaskCanceler
	Workers     Workers
	SystemInfo  SystemInfo
	Logger      *zap.Logger
}

type adminHandle struct {
	AdminConfig
}

// NewAdminHandle creates the admin handle
func NewAdminHandle(conf AdminConfig) Register {
	return &adminHandle{conf}
}

func (h *adminHandle) Register(r *gin.Engine) {
	r.GET("/workers", h.workersGet)
	r.PUT("/problems/:id", h.problemPut)
	r.POST("/problems/:id/rejudge", h.problemRejudge)
	r.POST("/submissions", h.submissionPost)
	r.GET("/submissions/:id", h.submissionGet)
	r.POST("/submissions/:id/rejudge", h.submissionRejudge)
	r.POST("/submissions/:id/cancel", h.submissionCancel)
	r.POST("/tasks/:taskId/cancel", h.taskCancel)
}

type idURI struct {
	ID uint64 `uri:"id" binding:"required"`
}

func (h *adminHandle) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, submission.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, submission.ErrInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, lock.ErrRetryExhausted):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("admin request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *adminHandle) workersGet(c *gin.Context) {
	info, err := h.SystemInfo.SystemInfo(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":   h.Workers.List(),
		"systemInfo": info,
	})
}

func (h *adminHandle) problemPut(c *gin.Context) {
	var uri idURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	var p submission.Problem
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	p.ID = uri.ID
	if err := h.Store.PutProblem(c.Request.Context(), &p); err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, &p)
}

func (h *adminHandle) problemRejudge(c *gin.Context) {
	var uri idURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	n, err := h.Submissions.RejudgeProblem(c.Request.Context(), uri.ID)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *adminHandle) submissionPost(c *gin.Context) {
	var sub submission.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := h.Submissions.Submit(c.Request.Context(), &sub); err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, &sub)
}

func (h *adminHandle) submissionGet(c *gin.Context) {
	var uri idURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	sub, err := h.Store.Get(c.Request.Context(), uri.ID)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *adminHandle) submissionRejudge(c *gin.Context) {
	var uri idURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	class := priority.ClassInteractiveRejudge
	if c.Query("background") == "true" {
		class = priority.ClassBackgroundRejudge
	}
	if err := h.Submissions.Rejudge(c.Request.Context(), uri.ID, class); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *adminHandle) submissionCancel(c *gin.Context) {
	var uri idURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := h.Submissions.CancelSubmission(c.Request.Context(), uri.ID); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *adminHandle) taskCancel(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.Tasks.Cancel(c.Request.Context(), taskID); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}
