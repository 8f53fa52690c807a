package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/shared/models"
)

type CredentialCommander interface {
	IssueCredential(ctx context.Context, cmd cqrs.IssueCredentialCommand) (*models.Credential, bool, error)
	DeleteCredential(ctx context.Context, cmd cqrs.DeleteCredentialCommand) (bool, error)
}

type CredentialQuerier interface {
	GetCredential(ctx context.Context, q cqrs.GetCredentialQuery) (*models.Credential, error)
}

// CredentialHandler serves the service-to-service credential API. Routes are
// expected behind middleware.InternalAuth.
type CredentialHandler struct {
	commands CredentialCommander
	queries  CredentialQuerier
	logger   *slog.Logger
}

type IssueCredentialRequest struct {
	UserID string `json:"userId" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
}

func NewCredentialHandler(commands CredentialCommander, queries CredentialQuerier, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{commands: commands, queries: queries, logger: logger}
}

// Issue answers 201 for a new credential and 200 when it already existed.
func (h *CredentialHandler) Issue(c *gin.Context) {
	var req IssueCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	cred, created, err := h.commands.IssueCredential(c.Request.Context(), cqrs.IssueCredentialCommand{
		UserID: req.UserID,
		Email:  req.Email,
	})
	if err != nil {
		h.logger.Error("issue credential failed", "user_id", req.UserID, "error", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, cred)
}

// Delete answers 404 when there was nothing to delete, which callers treat
// as success.
func (h *CredentialHandler) Delete(c *gin.Context) {
	userID := c.Param("userId")
	deleted, err := h.commands.DeleteCredential(c.Request.Context(), cqrs.DeleteCredentialCommand{UserID: userID})
	if err != nil {
		h.logger.Error("delete credential failed", "user_id", userID, "error", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	if !deleted {
		middleware.RespondWithError(c, http.StatusNotFound, "Credential not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CredentialHandler) Get(c *gin.Context) {
	userID := c.Param("userId")
	cred, err := h.queries.GetCredential(c.Request.Context(), cqrs.GetCredentialQuery{UserID: userID})
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Credential not found")
			return
		}
		h.logger.Error("get credential failed", "user_id", userID, "error", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	c.JSON(http.StatusOK, cred)
}
