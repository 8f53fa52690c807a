package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cancel cancels the pending task of identity for action, provided its first
// attempt has not been claimed yet.
func (s *Service) Cancel(ctx context.Context, identity string, action Action) (*Task, error) {
	return s.cancel(ctx, identity, action, time.Time{})
}

// cancel skips tasks created after before, unless before is zero.
func (s *Service) cancel(ctx context.Context, identity string, action Action, before time.Time) (*Task, error) {
	tasks, err := s.tasks.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", identity, err)
	}
	for i := range tasks {
		t := &tasks[i]
		if t.Action != action || t.State != StatePending || t.Attempts != 0 {
			continue
		}
		if !before.IsZero() && t.CreatedAt.After(before) {
			continue
		}
		cancelled := *t
		cancelled.State = StateCancelled
		if err := s.transition(ctx, t, &cancelled); err != nil {
			if errors.Is(err, ErrStaleTask) {
				continue
			}
			return nil, fmt.Errorf("cancel task %s: %w", t.ID, err)
		}
		s.remember(&cancelled)
		s.record(ctx, identity, &cancelled, OutcomeCancelled, "")
		return &cancelled, nil
	}
	return nil, ErrNotCancellable
}

// FailedTasks lists tasks in failed_exhausted or failed_permanent for
// manual remediation. Failed tasks are never purged automatically.
func (s *Service) FailedTasks(ctx context.Context, limit int) ([]Task, error) {
	return s.tasks.ListByState(ctx, []State{StateFailedExhausted, StateFailedPermanent}, limit)
}

// Retry reopens a failed credential deletion or issue with a fresh attempt
// budget and queues it. Password rotations cannot be retried since the
// plaintext is gone.
func (s *Service) Retry(ctx context.Context, taskID string) (*Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.State.Failed() || !task.Action.Resumable() {
		return task, ErrNotRetryable
	}

	reopened := *task
	reopened.State = StatePending
	reopened.Attempts = 0
	reopened.NextAttemptAt = nil
	if err := s.transition(ctx, task, &reopened); err != nil {
		return task, fmt.Errorf("reopen task %s: %w", task.ID, err)
	}
	s.seen.Del(seenKey(reopened.Action, reopened.DeliveryID))
	s.record(ctx, reopened.Identity, &reopened, OutcomeReopened, task.LastError)

	ev := DeliveryEvent{Identity: reopened.Identity, Kind: reopened.Action.deliveryKind(), DeliveryID: reopened.DeliveryID}
	if err := s.enqueue(ctx, ev); err != nil {
		// Still persisted as pending; Recover picks it up on the next start.
		return &reopened, fmt.Errorf("queue reopened task: %w", err)
	}
	return &reopened, nil
}

// AuditTrail returns the audit records for identity, oldest first.
func (s *Service) AuditTrail(ctx context.Context, identity string) ([]AuditRecord, error) {
	return s.audit.ListByIdentity(ctx, identity)
}
