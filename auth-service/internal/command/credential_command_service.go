package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/models"
)

type CredentialWriter interface {
	Issue(ctx context.Context, cred *models.Credential) (bool, error)
	DeleteByID(ctx context.Context, userID string) (bool, error)
	MarkPasswordChanged(ctx context.Context, userID string, at time.Time) error
}

// CredentialCommandService mutates the credentials table, either on request
// from user-service or in reaction to profile events.
type CredentialCommandService struct {
	credentials CredentialWriter
	logger      *slog.Logger
}

func NewCredentialCommandService(credentials CredentialWriter, logger *slog.Logger) *CredentialCommandService {
	return &CredentialCommandService{credentials: credentials, logger: logger}
}

func (s *CredentialCommandService) IssueCredential(ctx context.Context, cmd cqrs.IssueCredentialCommand) (*models.Credential, bool, error) {
	cred := &models.Credential{
		UserID:    cmd.UserID,
		Email:     strings.ToLower(strings.TrimSpace(cmd.Email)),
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.credentials.Issue(ctx, cred)
	if err != nil {
		return nil, false, err
	}
	return cred, created, nil
}

// DeleteCredential reports whether a credential existed.
func (s *CredentialCommandService) DeleteCredential(ctx context.Context, cmd cqrs.DeleteCredentialCommand) (bool, error) {
	deleted, err := s.credentials.DeleteByID(ctx, cmd.UserID)
	if err != nil {
		return false, err
	}
	s.logger.Info("credential delete", "user_id", cmd.UserID, "deleted", deleted)
	return deleted, nil
}

// HandleProfileEvent is the Redis stream subscriber handler. Credentials are
// issued and deleted by user-service through the internal API, so that every
// attempt is tracked and ordered per identity; only the password change stamp
// is taken from the stream.
func (s *CredentialCommandService) HandleProfileEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.PasswordChanged:
		var data events.PasswordChangedEvent
		if err := event.DecodeData(&data); err != nil {
			s.logger.Error("dropping undecodable profile event", "event_id", event.ID, "type", event.Type, "error", err)
			return nil
		}
		err := s.credentials.MarkPasswordChanged(ctx, data.UserID, data.ChangedAt)
		if errors.Is(err, repository.ErrCredentialNotFound) {
			s.logger.Warn("password change for identity without credential", "user_id", data.UserID, "event_id", event.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark password change for %s: %w", data.UserID, err)
		}
	}
	return nil
}
