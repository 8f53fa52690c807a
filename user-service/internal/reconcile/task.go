package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// Action is the reconciliation a task performs.
type Action string

const (
	ActionDeleteCredential     Action = "delete_credential"
	ActionIssueCredential      Action = "issue_credential"
	ActionRotateCredentialHash Action = "rotate_credential_hash"
)

// Resumable reports whether a task of this action can be re-run from its row
// alone, which is not true of rotations: the new hash is never persisted.
func (a Action) Resumable() bool {
	return a == ActionDeleteCredential || a == ActionIssueCredential
}

// deliveryKind is the delivery that resumes a task of this action.
func (a Action) deliveryKind() DeliveryKind {
	if a == ActionIssueCredential {
		return KindCreated
	}
	return KindDeleted
}

// State of a reconciliation task.
//
//	pending -> (attempt) -> succeeded | retrying -> (backoff) -> pending ... -> failed_exhausted
//
// A pending task with zero attempts can be cancelled. Permanent store errors
// end in failed_permanent.
type State string

const (
	StatePending         State = "pending"
	StateRetrying        State = "retrying"
	StateSucceeded       State = "succeeded"
	StateFailedExhausted State = "failed_exhausted"
	StateFailedPermanent State = "failed_permanent"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailedExhausted, StateFailedPermanent, StateCancelled:
		return true
	}
	return false
}

// Failed reports whether the state needs operator attention.
func (s State) Failed() bool {
	return s == StateFailedExhausted || s == StateFailedPermanent
}

// Task is one row of the reconciliation table. (Action, DeliveryID) is unique,
// so redelivered events map onto the task created by the first delivery.
type Task struct {
	ID            string     `json:"id"`
	Identity      string     `json:"identity"`
	Action        Action     `json:"action"`
	DeliveryID    string     `json:"deliveryId"`
	State         State      `json:"state"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"lastError,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time  `json:"createdTimestamp"`
	UpdatedAt     time.Time  `json:"updatedTimestamp"`
}

// NewTask returns a pending task. Callers that persist it alongside the profile
// change use DeliveryID as the ID of the event they publish.
func NewTask(identity string, action Action, deliveryID string, now time.Time) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Identity:   identity,
		Action:     action,
		DeliveryID: deliveryID,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DeliveryKind is the kind of profile change carried by a delivery.
type DeliveryKind string

const (
	KindCreated         DeliveryKind = "created"
	KindDeleted         DeliveryKind = "deleted"
	KindPasswordChanged DeliveryKind = "password_changed"
	KindRestored        DeliveryKind = "restored"
)

// DeliveryEvent is one at-least-once notification from the event bus.
type DeliveryEvent struct {
	Identity   string
	Kind       DeliveryKind
	DeliveryID string
}

// Outcome recorded in the audit log.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeNotFoundSuccess Outcome = "success_not_found"
	// The profile changed again before the attempt ran.
	OutcomeSkippedProfileLive Outcome = "skipped_profile_live"
	OutcomeSkippedProfileGone Outcome = "skipped_profile_gone"
	OutcomeFailedExhausted    Outcome = "failed_exhausted"
	OutcomeFailedPermanent    Outcome = "failed_permanent"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeReopened           Outcome = "reopened"
)

// AuditRecord is an append-only entry describing a reconciliation outcome.
type AuditRecord struct {
	ID         int64     `json:"id"`
	Identity   string    `json:"identity"`
	Action     Action    `json:"action"`
	Outcome    Outcome   `json:"outcome"`
	DeliveryID string    `json:"deliveryId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}
