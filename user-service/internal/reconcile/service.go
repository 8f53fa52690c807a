package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/models"
)

// DeleteResult is the successful outcome of a credential deletion.
type DeleteResult int

const (
	Deleted DeleteResult = iota + 1
	NotFound
)

// CredentialStore owns authentication credentials keyed by identity.
// Failures should be marked with Transient or Permanent; unmarked errors are retried.
type CredentialStore interface {
	DeleteByID(ctx context.Context, identity string) (DeleteResult, error)
	// Issue creates the credential of identity, or succeeds if it exists.
	Issue(ctx context.Context, identity, email string) error
}

// ProfileStore owns application user records. Lookups of unknown users return
// an error wrapping ErrNotFound; a lost conditional update wraps ErrVersionConflict.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, expectedVersion int64) error
}

// TaskStore persists reconciliation tasks. Transition is a compare-and-swap:
// it applies next only while the stored row still matches cur's state and
// attempt count, and returns ErrStaleTask otherwise.
type TaskStore interface {
	CreateOrGet(ctx context.Context, t *Task) (task *Task, created bool, err error)
	Get(ctx context.Context, id string) (*Task, error)
	Transition(ctx context.Context, cur, next *Task) error
	ListByState(ctx context.Context, states []State, limit int) ([]Task, error)
	ListByIdentity(ctx context.Context, identity string) ([]Task, error)
}

// AuditLog is the append-only outcome record.
type AuditLog interface {
	Record(ctx context.Context, rec AuditRecord) error
	ListByIdentity(ctx context.Context, identity string) ([]AuditRecord, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) (string, error)
}

type Dependencies struct {
	Tasks       TaskStore
	Audit       AuditLog
	Credentials CredentialStore
	Profiles    ProfileStore
	// Optional.
	Publisher EventPublisher
	Locker    Locker
	Logger    *slog.Logger
}

// Service keeps the credential store in agreement with the profile store.
// Work for one identity is serialised through the Locker; different
// identities proceed in parallel on the worker pool.
type Service struct {
	tasks       TaskStore
	audit       AuditLog
	credentials CredentialStore
	profiles    ProfileStore
	publisher   EventPublisher
	locker      Locker
	logger      *slog.Logger
	tracer      trace.Tracer
	policy      Policy
	now         func() time.Time

	// seen caches deliveries already in a terminal state.
	seen *ristretto.Cache[string, State]

	queue chan DeliveryEvent

	mu       sync.Mutex
	running  bool
	stopped  bool
	done     chan struct{}
	stopWork context.CancelFunc
	wg       sync.WaitGroup
}

func New(deps Dependencies, policy Policy) (*Service, error) {
	if deps.Tasks == nil || deps.Audit == nil || deps.Credentials == nil || deps.Profiles == nil {
		return nil, errors.New("reconcile: tasks, audit, credentials and profiles are required")
	}
	policy = policy.normalized()
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	seen, err := ristretto.NewCache(&ristretto.Config[string, State]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: create delivery cache: %w", err)
	}

	return &Service{
		tasks:       deps.Tasks,
		audit:       deps.Audit,
		credentials: deps.Credentials,
		profiles:    deps.Profiles,
		publisher:   deps.Publisher,
		locker:      deps.Locker,
		logger:      deps.Logger.With("component", "reconcile"),
		tracer:      otel.Tracer("github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"),
		policy:      policy,
		now:         func() time.Time { return time.Now().UTC() },
		seen:        seen,
		queue:       make(chan DeliveryEvent, policy.QueueSize),
	}, nil
}

// Start launches the worker pool and re-enqueues tasks left unfinished by a
// previous run. It returns once the workers are running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return errors.New("reconcile: service already started")
	}

	workCtx, cancel := context.WithCancel(ctx)
	s.stopWork = cancel
	s.done = make(chan struct{})
	s.running = true

	for i := 0; i < s.policy.Workers; i++ {
		s.wg.Add(1)
		go s.worker(workCtx, i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Recover(workCtx); err != nil && workCtx.Err() == nil {
			s.logger.Error("recover unfinished tasks", "error", err)
		}
	}()

	s.logger.Info("reconciliation workers started", "workers", s.policy.Workers, "queue_size", s.policy.QueueSize)
	return nil
}

// Stop stops intake and waits for the workers. In-flight attempts complete;
// tasks still queued stay persisted and are recovered on the next process start.
// A stopped Service cannot be restarted.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	close(s.done)
	s.stopWork()
	s.mu.Unlock()

	s.wg.Wait()
	s.seen.Close()
	s.logger.Info("reconciliation workers stopped")
}

func (s *Service) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.handle(ctx, ev); err != nil && ctx.Err() == nil {
				s.logger.Warn("delivery not reconciled",
					"worker", n, "identity", ev.Identity, "kind", ev.Kind, "delivery_id", ev.DeliveryID, "error", err)
			}
		}
	}
}

func (s *Service) handle(ctx context.Context, ev DeliveryEvent) error {
	switch ev.Kind {
	case KindDeleted:
		_, err := s.HandleProfileDeleted(ctx, ev)
		return err
	case KindCreated, KindRestored:
		_, err := s.HandleCredentialIssue(ctx, ev)
		return err
	default:
		return fmt.Errorf("unsupported delivery kind %q", ev.Kind)
	}
}

// Dispatch accepts one delivery from the event bus. Deletions, creations and
// restores are persisted as pending tasks before being queued, so a nil return
// means the delivery is durable and may be acknowledged. Dispatch blocks while
// the queue is full.
func (s *Service) Dispatch(ctx context.Context, ev DeliveryEvent) error {
	if ev.Identity == "" {
		return &ValidationError{Field: "identity", Message: "is required"}
	}
	ev.DeliveryID = deliveryKey(ev)

	switch ev.Kind {
	case KindDeleted:
		if _, skip, err := s.persist(ctx, ev, ActionDeleteCredential); err != nil || skip {
			return err
		}
		return s.enqueue(ctx, ev)

	case KindCreated:
		if _, skip, err := s.persist(ctx, ev, ActionIssueCredential); err != nil || skip {
			return err
		}
		return s.enqueue(ctx, ev)

	case KindRestored:
		task, skip, err := s.persist(ctx, ev, ActionIssueCredential)
		if err != nil || skip {
			return err
		}
		// Only deletions older than the restore are superseded by it. One that
		// already claimed an attempt re-checks the profile under the lock.
		cancelled, err := s.cancel(ctx, ev.Identity, ActionDeleteCredential, task.CreatedAt)
		switch {
		case err == nil:
			s.logger.Info("deletion cancelled by restore", "identity", ev.Identity, "task_id", cancelled.ID)
		case !errors.Is(err, ErrNotCancellable):
			return err
		}
		return s.enqueue(ctx, ev)

	case KindPasswordChanged:
		// The hash was rotated synchronously by HandlePasswordChange; this is its echo.
		return nil

	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported delivery kind %q", ev.Kind)}
	}
}

// persist maps ev onto its task. skip is true when the task is already terminal.
func (s *Service) persist(ctx context.Context, ev DeliveryEvent, action Action) (task *Task, skip bool, err error) {
	if state, ok := s.seen.Get(seenKey(action, ev.DeliveryID)); ok && state.Terminal() {
		s.logger.Debug("duplicate delivery skipped", "identity", ev.Identity, "delivery_id", ev.DeliveryID, "state", state)
		return nil, true, nil
	}
	task, created, err := s.tasks.CreateOrGet(ctx, NewTask(ev.Identity, action, ev.DeliveryID, s.now()))
	if err != nil {
		return nil, false, fmt.Errorf("persist %s task: %w", action, err)
	}
	if task.State.Terminal() {
		s.remember(task)
		s.logger.Info("duplicate delivery skipped", "identity", ev.Identity, "delivery_id", ev.DeliveryID, "state", task.State)
		return task, true, nil
	}
	if !created {
		s.logger.Info("redelivery of unfinished task", "identity", ev.Identity, "action", action, "delivery_id", ev.DeliveryID, "state", task.State)
	}
	return task, false, nil
}

func (s *Service) enqueue(ctx context.Context, ev DeliveryEvent) error {
	s.mu.Lock()
	running, done := s.running, s.done
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case s.queue <- ev:
		return nil
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover re-enqueues credential deletions and issues that are still pending
// or retrying. Password rotations cannot be resumed without the plaintext, so
// unfinished ones are failed for an operator to see.
func (s *Service) Recover(ctx context.Context) error {
	tasks, err := s.tasks.ListByState(ctx, []State{StatePending, StateRetrying}, 0)
	if err != nil {
		return fmt.Errorf("list unfinished tasks: %w", err)
	}
	for i := range tasks {
		t := &tasks[i]
		switch {
		case t.Action.Resumable():
			ev := DeliveryEvent{Identity: t.Identity, Kind: t.Action.deliveryKind(), DeliveryID: t.DeliveryID}
			if err := s.enqueue(ctx, ev); err != nil {
				return err
			}
		case t.Action == ActionRotateCredentialHash:
			if err := s.failInterrupted(ctx, t); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("fail interrupted rotation", "task_id", t.ID, "error", err)
			}
		}
	}
	if len(tasks) > 0 {
		s.logger.Info("recovered unfinished tasks", "count", len(tasks))
	}
	return nil
}

// failInterrupted fails an unfinished rotation. It takes the identity lock and
// re-reads the task first, so a rotation still running in this or another
// process is left to finish.
func (s *Service) failInterrupted(ctx context.Context, t *Task) error {
	unlock, err := s.locker.Lock(ctx, t.Identity)
	if err != nil {
		return fmt.Errorf("lock identity %s: %w", t.Identity, err)
	}
	defer unlock()

	fresh, err := s.tasks.Get(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("reload task: %w", err)
	}
	if fresh.State.Terminal() {
		return nil
	}
	failed, err := s.fail(ctx, fresh, StateFailedPermanent, fresh.Identity, errors.New("interrupted before completion; resubmit the password change"))
	if failed.State.Failed() || errors.Is(err, ErrStaleTask) {
		return nil
	}
	return err
}

// FromEvent maps a profile stream event onto a delivery. ok is false for
// event types the service does not consume.
func FromEvent(e events.Event) (ev DeliveryEvent, ok bool, err error) {
	var kind DeliveryKind
	switch e.Type {
	case events.ProfileCreated:
		kind = KindCreated
	case events.ProfileDeleted:
		kind = KindDeleted
	case events.ProfileRestored:
		kind = KindRestored
	case events.PasswordChanged:
		kind = KindPasswordChanged
	default:
		return DeliveryEvent{}, false, nil
	}
	identity, err := events.UserIDOf(e)
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	return DeliveryEvent{Identity: identity, Kind: kind, DeliveryID: e.ID}, true, nil
}

// HandleEvent is the stream subscriber handler.
func (s *Service) HandleEvent(ctx context.Context, e events.Event) error {
	ev, ok, err := FromEvent(e)
	if err != nil {
		// Unparseable payloads cannot succeed on redelivery.
		s.logger.Error("dropping undecodable profile event", "event_id", e.ID, "type", e.Type, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return s.Dispatch(ctx, ev)
}

// attemptFunc performs one attempt. A nil error means success with the given outcome.
type attemptFunc func(ctx context.Context) (outcome Outcome, auditIdentity string, err error)

// run drives task through attempts until it reaches a terminal state or ctx
// ends during a backoff wait. The caller must hold the identity lock.
func (s *Service) run(ctx context.Context, task *Task, attempt attemptFunc) (*Task, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile."+string(task.Action), trace.WithAttributes(
		attribute.String("reconcile.identity", task.Identity),
		attribute.String("reconcile.delivery_id", task.DeliveryID),
		attribute.String("reconcile.task_id", task.ID),
	))
	defer span.End()

	log := s.logger.With("identity", task.Identity, "action", task.Action, "delivery_id", task.DeliveryID, "task_id", task.ID)

	for {
		if task.State == StateRetrying {
			if task.NextAttemptAt != nil {
				if err := wait(ctx, task.NextAttemptAt.Sub(s.now())); err != nil {
					return task, err
				}
			}
			next := *task
			next.State = StatePending
			next.NextAttemptAt = nil
			if err := s.transition(ctx, task, &next); err != nil {
				return s.afterStale(ctx, task, err)
			}
			task = &next
		}

		if task.State != StatePending {
			return task, fmt.Errorf("task %s in unexpected state %s", task.ID, task.State)
		}
		if task.Attempts >= s.policy.MaxAttempts {
			return s.fail(ctx, task, StateFailedExhausted, task.Identity, errors.New(task.LastError))
		}

		// Claiming the attempt makes the task non-cancellable.
		claimed := *task
		claimed.Attempts++
		if err := s.transition(ctx, task, &claimed); err != nil {
			return s.afterStale(ctx, task, err)
		}
		task = &claimed

		// An attempt in flight runs to completion even if ctx is cancelled, up
		// to the attempt timeout. Its result is recorded without either bound.
		settleCtx := context.WithoutCancel(ctx)
		attemptCtx, cancelAttempt := context.WithTimeout(settleCtx, s.policy.AttemptTimeout)
		attemptCtx, attemptSpan := s.tracer.Start(attemptCtx, "reconcile.attempt", trace.WithAttributes(
			attribute.Int("reconcile.attempt", task.Attempts),
		))
		outcome, auditIdentity, err := attempt(attemptCtx)
		if err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
		}
		attemptSpan.End()
		cancelAttempt()
		if auditIdentity == "" {
			auditIdentity = task.Identity
		}

		switch {
		case err == nil:
			done := *task
			done.State = StateSucceeded
			done.LastError = ""
			if err := s.transition(settleCtx, task, &done); err != nil {
				return task, fmt.Errorf("record success: %w", err)
			}
			s.remember(&done)
			s.record(settleCtx, auditIdentity, &done, outcome, "")
			log.Info("reconciliation succeeded", "attempt", done.Attempts, "outcome", outcome)
			return &done, nil

		case !IsTransient(err):
			span.SetStatus(codes.Error, err.Error())
			return s.fail(settleCtx, task, StateFailedPermanent, auditIdentity, err)

		case task.Attempts >= s.policy.MaxAttempts:
			span.SetStatus(codes.Error, err.Error())
			return s.fail(settleCtx, task, StateFailedExhausted, auditIdentity, err)
		}

		delay := s.policy.Backoff(task.Attempts)
		nextAt := s.now().Add(delay)
		retrying := *task
		retrying.State = StateRetrying
		retrying.LastError = err.Error()
		retrying.NextAttemptAt = &nextAt
		if err := s.transition(settleCtx, task, &retrying); err != nil {
			return task, fmt.Errorf("record retry: %w", err)
		}
		task = &retrying
		log.Warn("reconciliation attempt failed, retrying", "attempt", task.Attempts, "delay", delay, "error", err)
	}
}

// fail moves task to a failed terminal state and surfaces it.
func (s *Service) fail(ctx context.Context, task *Task, state State, auditIdentity string, cause error) (*Task, error) {
	failed := *task
	failed.State = state
	if cause != nil && cause.Error() != "" {
		failed.LastError = cause.Error()
	}
	failed.NextAttemptAt = nil
	if err := s.transition(ctx, task, &failed); err != nil {
		return task, fmt.Errorf("record failure: %w", err)
	}
	s.remember(&failed)

	outcome := OutcomeFailedPermanent
	if state == StateFailedExhausted {
		outcome = OutcomeFailedExhausted
	}
	s.record(ctx, auditIdentity, &failed, outcome, failed.LastError)
	s.logger.Error("reconciliation failed",
		"identity", failed.Identity, "action", failed.Action, "delivery_id", failed.DeliveryID,
		"task_id", failed.ID, "state", failed.State, "attempts", failed.Attempts, "error", failed.LastError)

	if state == StateFailedExhausted {
		return &failed, fmt.Errorf("%w after %d attempts: %s", ErrExhausted, failed.Attempts, failed.LastError)
	}
	return &failed, cause
}

// afterStale resolves a lost compare-and-swap by reloading the task.
func (s *Service) afterStale(ctx context.Context, task *Task, err error) (*Task, error) {
	if !errors.Is(err, ErrStaleTask) {
		return task, err
	}
	fresh, getErr := s.tasks.Get(ctx, task.ID)
	if getErr != nil {
		return task, fmt.Errorf("reload task after conflict: %w", getErr)
	}
	if fresh.State == StateCancelled {
		return fresh, ErrCancelled
	}
	return fresh, err
}

func (s *Service) transition(ctx context.Context, cur, next *Task) error {
	next.UpdatedAt = s.now()
	return s.tasks.Transition(ctx, cur, next)
}

func (s *Service) record(ctx context.Context, identity string, task *Task, outcome Outcome, detail string) {
	rec := AuditRecord{
		Identity:   identity,
		Action:     task.Action,
		Outcome:    outcome,
		DeliveryID: task.DeliveryID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		// The task row still carries the outcome.
		s.logger.Error("write audit record", "identity", identity, "task_id", task.ID, "outcome", outcome, "error", err)
	}
}

func (s *Service) remember(task *Task) {
	if task.State.Terminal() {
		s.seen.Set(seenKey(task.Action, task.DeliveryID), task.State, 1)
	}
}

func seenKey(action Action, deliveryID string) string {
	return string(action) + ":" + deliveryID
}

// deliveryKey falls back to the identity when a caller has no delivery ID,
// which makes repeated calls for the same identity collapse onto one task.
func deliveryKey(ev DeliveryEvent) string {
	if ev.DeliveryID != "" {
		return ev.DeliveryID
	}
	return ev.Identity
}
