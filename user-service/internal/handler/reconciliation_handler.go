package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

type TaskCommander interface {
	RetryTask(context.Context, cqrs.RetryTaskCommand) (*reconcile.Task, error)
}

type TaskQuerier interface {
	ListFailedTasks(context.Context, cqrs.ListFailedTasksQuery) ([]reconcile.Task, error)
	AuditTrail(context.Context, cqrs.AuditTrailQuery) ([]reconcile.AuditRecord, error)
}

// ReconciliationHandler serves the operator view of reconciliation tasks.
type ReconciliationHandler struct {
	commands TaskCommander
	queries  TaskQuerier
}

func NewReconciliationHandler(commands TaskCommander, queries TaskQuerier) *ReconciliationHandler {
	return &ReconciliationHandler{commands: commands, queries: queries}
}

func (h *ReconciliationHandler) ListFailed(c *gin.Context) {
	var limit int
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.RespondWithError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.queries.ListFailedTasks(c.Request.Context(), cqrs.ListFailedTasksQuery{Limit: limit})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to fetch reconciliation tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *ReconciliationHandler) Retry(c *gin.Context) {
	task, err := h.commands.RetryTask(c.Request.Context(), cqrs.RetryTaskCommand{TaskID: c.Param("taskId")})
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotFound):
			middleware.RespondWithError(c, http.StatusNotFound, "Task not found")
		case errors.Is(err, reconcile.ErrNotRetryable):
			middleware.RespondWithError(c, http.StatusConflict, "Only failed credential deletions can be retried")
		case errors.Is(err, reconcile.ErrNotRunning):
			middleware.RespondWithError(c, http.StatusServiceUnavailable, "Reconciliation workers are not running")
		default:
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to retry task")
		}
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h *ReconciliationHandler) AuditTrail(c *gin.Context) {
	records, err := h.queries.AuditTrail(c.Request.Context(), cqrs.AuditTrailQuery{Identity: c.Param("identity")})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to fetch audit trail")
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
