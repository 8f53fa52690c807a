package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// HandleCredentialIssue gives a created or restored profile its credential.
// Redeliveries map onto the same task as in HandleProfileDeleted. The attempt
// reads the live profile first: one that was deleted again is skipped, so it
// never gets a credential back.
func (s *Service) HandleCredentialIssue(ctx context.Context, ev DeliveryEvent) (*Task, error) {
	if ev.Identity == "" {
		return nil, &ValidationError{Field: "identity", Message: "is required"}
	}
	if ev.Kind != "" && ev.Kind != KindCreated && ev.Kind != KindRestored {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("expected %q or %q, got %q", KindCreated, KindRestored, ev.Kind)}
	}
	deliveryID := deliveryKey(ev)

	unlock, err := s.locker.Lock(ctx, ev.Identity)
	if err != nil {
		return nil, fmt.Errorf("lock identity %s: %w", ev.Identity, err)
	}
	defer unlock()

	task, _, err := s.tasks.CreateOrGet(ctx, NewTask(ev.Identity, ActionIssueCredential, deliveryID, s.now()))
	if err != nil {
		return nil, fmt.Errorf("load issue task: %w", err)
	}
	if task.State.Terminal() {
		s.remember(task)
		s.logger.Info("credential issue already reconciled",
			"identity", task.Identity, "delivery_id", task.DeliveryID, "state", task.State)
		return task, nil
	}

	task, err = s.run(ctx, task, func(ctx context.Context) (Outcome, string, error) {
		user, err := s.profiles.GetByID(ctx, ev.Identity)
		if errors.Is(err, ErrNotFound) {
			return OutcomeSkippedProfileGone, "", nil
		}
		if err != nil {
			return "", "", err
		}
		if err := s.credentials.Issue(ctx, user.ID, user.Email); err != nil {
			return "", "", err
		}
		return OutcomeSuccess, "", nil
	})
	if errors.Is(err, ErrCancelled) {
		return task, nil
	}
	return task, err
}
