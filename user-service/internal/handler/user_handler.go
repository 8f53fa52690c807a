package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/shared/utils"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
	"github.com/Venomous0511/JeepEZ/user-service/internal/repository"
)

// UserCommander defines the write-side operations used by UserHandler.
type UserCommander interface {
	CreateUser(context.Context, cqrs.CreateUserCommand) (*models.User, error)
	DeleteUser(context.Context, cqrs.DeleteUserCommand) error
	RestoreUser(context.Context, cqrs.RestoreUserCommand) error
	ChangePassword(context.Context, cqrs.ChangePasswordCommand) error
}

// UserQuerier defines the read-side operations used by UserHandler.
type UserQuerier interface {
	ListUsers(context.Context, cqrs.ListUsersQuery) ([]models.UserView, error)
}

// UserHandler routes requests to the command or query service as appropriate.
type UserHandler struct {
	commands UserCommander
	queries  UserQuerier
}

type CreateUserRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type ChangePasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

func NewUserHandler(commands UserCommander, queries UserQuerier) *UserHandler {
	return &UserHandler{commands: commands, queries: queries}
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.queries.ListUsers(c.Request.Context(), cqrs.ListUsersQuery{})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to fetch users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	user, err := h.commands.CreateUser(c.Request.Context(), cqrs.CreateUserCommand{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var ve *reconcile.ValidationError
		switch {
		case errors.As(err, &ve):
			respondWithDomainValidation(c, ve)
		case errors.Is(err, repository.ErrEmailExists):
			middleware.RespondWithError(c, http.StatusConflict, "Email already exists")
		default:
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	userID := c.Param("userId")
	if !utils.ValidateUserID(userID) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid user ID")
		return
	}
	requestingUserID, _ := middleware.GetUserID(c)

	if userID != requestingUserID {
		middleware.RespondWithError(c, http.StatusForbidden, "You can only delete your own account")
		return
	}

	err := h.commands.DeleteUser(c.Request.Context(), cqrs.DeleteUserCommand{UserID: userID})
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "User not found")
			return
		}
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *UserHandler) RestoreUser(c *gin.Context) {
	userID := c.Param("userId")
	if !utils.ValidateUserID(userID) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid user ID")
		return
	}
	err := h.commands.RestoreUser(c.Request.Context(), cqrs.RestoreUserCommand{UserID: userID})
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotFound):
			middleware.RespondWithError(c, http.StatusNotFound, "Deleted user not found")
		case errors.Is(err, repository.ErrEmailExists):
			middleware.RespondWithError(c, http.StatusConflict, "Email is in use by another user")
		default:
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to restore user")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User restored successfully"})
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	err := h.commands.ChangePassword(c.Request.Context(), cqrs.ChangePasswordCommand{
		Email:       req.Email,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		var ve *reconcile.ValidationError
		switch {
		case errors.As(err, &ve):
			respondWithDomainValidation(c, ve)
		case errors.Is(err, reconcile.ErrNotFound):
			middleware.RespondWithError(c, http.StatusNotFound, "User not found")
		case errors.Is(err, reconcile.ErrExhausted), reconcile.IsTransient(err):
			middleware.RespondWithError(c, http.StatusServiceUnavailable, "Password store unavailable, try again later")
		default:
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to update password")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}

func respondWithDomainValidation(c *gin.Context, ve *reconcile.ValidationError) {
	middleware.RespondWithValidationError(c, []middleware.ValidationError{{
		Field:   ve.Field,
		Message: ve.Message,
		Type:    "invalid",
	}})
}
