package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Publisher struct {
	client redis.Cmdable
}

func NewPublisher(client redis.Cmdable) *Publisher {
	return &Publisher{client: client}
}

// Publish appends an event to stream and returns the generated event ID.
func (p *Publisher) Publish(ctx context.Context, stream, eventType string, data any) (string, error) {
	return p.PublishWithID(ctx, stream, uuid.NewString(), eventType, data)
}

// PublishWithID appends an event carrying id, which consumers use as the
// delivery ID. Republishing with the same id is deduplicated downstream.
func (p *Publisher) PublishWithID(ctx context.Context, stream, id, eventType string, data any) (string, error) {
	if id == "" {
		return "", errors.New("event id is required")
	}
	event := Event{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"event": eventJSON,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	return event.ID, nil
}
