package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	ProfileCreated  = "profile.created"
	ProfileDeleted  = "profile.deleted"
	ProfileRestored = "profile.restored"
	PasswordChanged = "profile.password_changed"
)

// Stream names
const (
	ProfileEventsStream = "profile.events"
)

// Event is the envelope written to a stream. ID identifies the logical change
// and is stable across redeliveries of the same message.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// DecodeData re-decodes the loosely typed Data payload into target.
func (e Event) DecodeData(target any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Profile events
type ProfileCreatedEvent struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type ProfileDeletedEvent struct {
	UserID string `json:"userId"`
}

type ProfileRestoredEvent struct {
	UserID string `json:"userId"`
}

type PasswordChangedEvent struct {
	UserID    string    `json:"userId"`
	ChangedAt time.Time `json:"changedAt"`
}

// UserIDOf extracts the identity every profile event carries.
func UserIDOf(e Event) (string, error) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := e.DecodeData(&payload); err != nil {
		return "", err
	}
	if payload.UserID == "" {
		return "", fmt.Errorf("%s event %s has no userId", e.Type, e.ID)
	}
	return payload.UserID, nil
}
