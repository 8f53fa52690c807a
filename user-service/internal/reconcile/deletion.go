package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// HandleProfileDeleted removes the credential of a deleted profile.
//
// The delivery is mapped onto the task for (DeleteCredential, DeliveryID); a
// task that already reached a terminal state makes the call a no-op, so
// redeliveries neither fail nor add audit records. A credential that is
// already absent counts as success. Transient store failures are retried with
// backoff up to the policy's attempt cap, after which the task is left in
// failed_exhausted and ErrExhausted is returned. A profile that was restored
// in the meantime keeps its credential.
func (s *Service) HandleProfileDeleted(ctx context.Context, ev DeliveryEvent) (*Task, error) {
	if ev.Identity == "" {
		return nil, &ValidationError{Field: "identity", Message: "is required"}
	}
	if ev.Kind != "" && ev.Kind != KindDeleted {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("expected %q, got %q", KindDeleted, ev.Kind)}
	}
	deliveryID := deliveryKey(ev)

	unlock, err := s.locker.Lock(ctx, ev.Identity)
	if err != nil {
		return nil, fmt.Errorf("lock identity %s: %w", ev.Identity, err)
	}
	defer unlock()

	task, _, err := s.tasks.CreateOrGet(ctx, NewTask(ev.Identity, ActionDeleteCredential, deliveryID, s.now()))
	if err != nil {
		return nil, fmt.Errorf("load deletion task: %w", err)
	}
	if task.State.Terminal() {
		s.remember(task)
		s.logger.Info("deletion already reconciled",
			"identity", task.Identity, "delivery_id", task.DeliveryID, "state", task.State)
		return task, nil
	}

	task, err = s.run(ctx, task, func(ctx context.Context) (Outcome, string, error) {
		_, err := s.profiles.GetByID(ctx, ev.Identity)
		switch {
		case err == nil:
			return OutcomeSkippedProfileLive, "", nil
		case !errors.Is(err, ErrNotFound):
			return "", "", err
		}
		res, err := s.credentials.DeleteByID(ctx, ev.Identity)
		if err != nil {
			return "", "", err
		}
		if res == NotFound {
			return OutcomeNotFoundSuccess, "", nil
		}
		return OutcomeSuccess, "", nil
	})
	if errors.Is(err, ErrCancelled) {
		return task, nil
	}
	return task, err
}
