package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/shared/utils"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

// UserWriter commits each profile change together with follow, the pending
// task that brings the credential store in line with it.
type UserWriter interface {
	Create(ctx context.Context, user *models.User, follow *reconcile.Task) error
	Delete(ctx context.Context, id string, follow *reconcile.Task) error
	Restore(ctx context.Context, id string, follow *reconcile.Task) error
}

type ListInvalidator interface {
	InvalidateList(ctx context.Context)
}

type EventPublisher interface {
	PublishWithID(ctx context.Context, stream, id, eventType string, data any) (string, error)
}

// PasswordChanger is implemented by the reconciliation service.
type PasswordChanger interface {
	HandlePasswordChange(ctx context.Context, cmd cqrs.ChangePasswordCommand) (*reconcile.Task, error)
}

// TaskRetrier is implemented by the reconciliation service.
type TaskRetrier interface {
	Retry(ctx context.Context, taskID string) (*reconcile.Task, error)
}

// Dispatcher queues a delivery locally when the event stream is unreachable.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev reconcile.DeliveryEvent) error
}

type Reconciler interface {
	PasswordChanger
	TaskRetrier
	Dispatcher
}

// UserCommandService writes user state to PostgreSQL, keeps the Redis
// listing current and announces profile changes on the event stream.
type UserCommandService struct {
	writeRepo  UserWriter
	readRepo   ListInvalidator
	publisher  EventPublisher
	passwords  PasswordChanger
	tasks      TaskRetrier
	dispatcher Dispatcher
	bcryptCost int
	logger     *slog.Logger
}

func NewUserCommandService(
	writeRepo UserWriter,
	readRepo ListInvalidator,
	publisher EventPublisher,
	reconciler Reconciler,
	bcryptCost int,
	logger *slog.Logger,
) *UserCommandService {
	return &UserCommandService{
		writeRepo:  writeRepo,
		readRepo:   readRepo,
		publisher:  publisher,
		passwords:  reconciler,
		tasks:      reconciler,
		dispatcher: reconciler,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

func (s *UserCommandService) CreateUser(ctx context.Context, cmd cqrs.CreateUserCommand) (*models.User, error) {
	if err := reconcile.ValidatePassword(cmd.Password); err != nil {
		return nil, err
	}
	passwordHash, err := utils.HashPassword(cmd.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:           utils.GenerateID("usr"),
		Name:         strings.TrimSpace(cmd.Name),
		Email:        strings.ToLower(strings.TrimSpace(cmd.Email)),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	follow := reconcile.NewTask(user.ID, reconcile.ActionIssueCredential, uuid.NewString(), now)
	if err := s.writeRepo.Create(ctx, user, follow); err != nil {
		return nil, err
	}
	s.readRepo.InvalidateList(ctx)
	s.announce(ctx, follow, reconcile.KindCreated, events.ProfileCreated, events.ProfileCreatedEvent{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	return user, nil
}

// DeleteUser soft-deletes the profile and, in the same transaction, records
// the pending removal of its credential. The removal runs when
// profile.deleted is consumed, or at the next reconciler start.
func (s *UserCommandService) DeleteUser(ctx context.Context, cmd cqrs.DeleteUserCommand) error {
	follow := reconcile.NewTask(cmd.UserID, reconcile.ActionDeleteCredential, uuid.NewString(), time.Now().UTC())
	if err := s.writeRepo.Delete(ctx, cmd.UserID, follow); err != nil {
		return err
	}
	s.readRepo.InvalidateList(ctx)
	s.announce(ctx, follow, reconcile.KindDeleted, events.ProfileDeleted, events.ProfileDeletedEvent{UserID: cmd.UserID})
	return nil
}

// RestoreUser undoes a soft delete and records a credential re-issue. A
// credential deletion that has not started yet is cancelled when
// profile.restored is consumed.
func (s *UserCommandService) RestoreUser(ctx context.Context, cmd cqrs.RestoreUserCommand) error {
	follow := reconcile.NewTask(cmd.UserID, reconcile.ActionIssueCredential, uuid.NewString(), time.Now().UTC())
	if err := s.writeRepo.Restore(ctx, cmd.UserID, follow); err != nil {
		return err
	}
	s.readRepo.InvalidateList(ctx)
	s.announce(ctx, follow, reconcile.KindRestored, events.ProfileRestored, events.ProfileRestoredEvent{UserID: cmd.UserID})
	return nil
}

func (s *UserCommandService) ChangePassword(ctx context.Context, cmd cqrs.ChangePasswordCommand) error {
	_, err := s.passwords.HandlePasswordChange(ctx, cmd)
	if err != nil && !reconcile.IsValidation(err) && !errors.Is(err, reconcile.ErrNotFound) {
		s.logger.Error("password change failed", "user_id", cmd.UserID, "email", cmd.Email, "error", err)
	}
	return err
}

func (s *UserCommandService) RetryTask(ctx context.Context, cmd cqrs.RetryTaskCommand) (*reconcile.Task, error) {
	return s.tasks.Retry(ctx, cmd.TaskID)
}

// announce publishes the profile event under the follow-up task's delivery ID.
// When the stream is down the task is handed to the reconciler directly; if
// that fails too it stays pending in the database for the next Recover.
func (s *UserCommandService) announce(ctx context.Context, follow *reconcile.Task, kind reconcile.DeliveryKind, eventType string, data any) {
	_, err := s.publisher.PublishWithID(ctx, events.ProfileEventsStream, follow.DeliveryID, eventType, data)
	if err == nil {
		return
	}
	s.logger.Warn("failed to publish profile event, dispatching locally",
		"type", eventType, "user_id", follow.Identity, "delivery_id", follow.DeliveryID, "error", err)

	ev := reconcile.DeliveryEvent{Identity: follow.Identity, Kind: kind, DeliveryID: follow.DeliveryID}
	if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
		s.logger.Error("profile change left for recovery",
			"type", eventType, "user_id", follow.Identity, "delivery_id", follow.DeliveryID, "error", err)
	}
}
