package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/utils"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	MaxPasswordBytes = 72

	maxVersionConflicts = 3
)

// ValidatePassword applies the minimum strength policy.
func ValidatePassword(password string) error {
	switch {
	case strings.TrimSpace(password) == "":
		return &ValidationError{Field: "newPassword", Message: "must not be empty"}
	case utf8.RuneCountInString(password) < MinPasswordLength:
		return &ValidationError{Field: "newPassword", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	case len(password) > MaxPasswordBytes:
		return &ValidationError{Field: "newPassword", Message: fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes)}
	}
	return nil
}

// HandlePasswordChange replaces the stored hash of the profile addressed by
// cmd.UserID, or by cmd.Email when no ID is given.
//
// An email is resolved to the user ID first, so changes by ID and by email
// serialise on the same identity lock as deletions of that user. Each write is
// a conditional update on the profile's password version, so concurrent
// changes apply one after the other and the record always holds exactly one
// complete hash.
// Invalid input returns a *ValidationError with no effect; an unknown profile
// returns an error wrapping ErrNotFound. Store outages are retried like
// deletions and end in ErrExhausted.
func (s *Service) HandlePasswordChange(ctx context.Context, cmd cqrs.ChangePasswordCommand) (*Task, error) {
	if err := ValidatePassword(cmd.NewPassword); err != nil {
		return nil, err
	}
	key, byEmail := cmd.UserID, false
	if key == "" {
		email := strings.ToLower(strings.TrimSpace(cmd.Email))
		if email == "" {
			return nil, &ValidationError{Field: "email", Message: "is required"}
		}
		key, byEmail = s.resolveEmail(ctx, email)
	}

	hash, err := utils.HashPassword(cmd.NewPassword, s.policy.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock identity %s: %w", key, err)
	}
	defer unlock()

	task, _, err := s.tasks.CreateOrGet(ctx, NewTask(key, ActionRotateCredentialHash, uuid.NewString(), s.now()))
	if err != nil {
		return nil, fmt.Errorf("create rotation task: %w", err)
	}

	var userID string
	task, err = s.run(ctx, task, func(ctx context.Context) (Outcome, string, error) {
		id, err := s.rotateHash(ctx, key, byEmail, hash)
		userID = id
		if err != nil {
			return "", id, err
		}
		return OutcomeSuccess, id, nil
	})
	if err != nil {
		return task, err
	}

	s.publishPasswordChanged(ctx, userID)
	return task, nil
}

// resolveEmail returns the ID of the live user with email. When the lookup
// fails the email itself is returned as the key, and the attempt loop
// classifies the failure.
func (s *Service) resolveEmail(ctx context.Context, email string) (key string, byEmail bool) {
	user, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Debug("password change email not resolved", "error", err)
		return email, true
	}
	return user.ID, false
}

// rotateHash performs one attempt: read the current version and write the new
// hash conditioned on it. Lost races re-read and try again within the attempt.
func (s *Service) rotateHash(ctx context.Context, key string, byEmail bool, hash string) (string, error) {
	for i := 0; i < maxVersionConflicts; i++ {
		lookup := s.profiles.GetByID
		if byEmail {
			lookup = s.profiles.GetByEmail
		}
		user, err := lookup(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return "", Permanent(err)
		}
		if err != nil {
			return "", err
		}

		err = s.profiles.UpdatePasswordHash(ctx, user.ID, hash, user.PasswordVersion)
		switch {
		case err == nil:
			return user.ID, nil
		case errors.Is(err, ErrVersionConflict):
			continue
		case errors.Is(err, ErrNotFound):
			return user.ID, Permanent(err)
		default:
			return user.ID, err
		}
	}
	return "", Transient(fmt.Errorf("password update for %s: %w", key, ErrVersionConflict))
}

func (s *Service) publishPasswordChanged(ctx context.Context, userID string) {
	if s.publisher == nil || userID == "" {
		return
	}
	_, err := s.publisher.Publish(context.WithoutCancel(ctx), events.ProfileEventsStream, events.PasswordChanged, events.PasswordChangedEvent{
		UserID:    userID,
		ChangedAt: s.now(),
	})
	if err != nil {
		s.logger.Error("failed to publish password changed event", "identity", userID, "error", err)
	}
}
