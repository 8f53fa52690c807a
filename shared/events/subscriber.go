package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Handler func(ctx context.Context, event Event) error

var errMalformed = errors.New("malformed stream message")

type Subscriber struct {
	client        redis.Cmdable
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	retryDelay    time.Duration
	logger        *slog.Logger

	// readBacklog makes the next read replay this consumer's unacknowledged
	// entries instead of new ones.
	readBacklog bool
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

func NewSubscriber(client redis.Cmdable, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryDelay:    config.RetryDelay,
		logger:        config.Logger.With("stream", config.Stream, "group", config.Group, "consumer", config.Consumer),
		readBacklog:   true,
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	// Create consumer group if it doesn't exist
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("subscriber started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return ctx.Err()
		default:
		}

		if err := s.readMessages(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("error reading messages", "error", err)
			s.sleep(ctx)
		}
	}
}

func (s *Subscriber) readMessages(ctx context.Context) error {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}
	if s.readBacklog {
		// Negative Block omits BLOCK; a backlog read returns immediately.
		args.Streams = []string{s.stream, "0"}
		args.Block = -1
	}

	streams, err := s.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil // No messages
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	delivered := 0
	failed := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			delivered++
			err := s.processMessage(ctx, message)
			if errors.Is(err, errMalformed) {
				s.logger.Error("dropping malformed message", "message_id", message.ID, "error", err)
			} else if err != nil {
				failed++
				s.logger.Error("failed to process message", "message_id", message.ID, "error", err)
				// Left unacknowledged; replayed from the backlog on a later read.
				continue
			}

			if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
				s.logger.Error("failed to ack message", "message_id", message.ID, "error", err)
			}
		}
	}

	switch {
	case failed > 0:
		s.readBacklog = true
		s.sleep(ctx)
	case s.readBacklog && delivered == 0:
		s.readBacklog = false
	}
	return nil
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("%w: missing event field", errMalformed)
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.ID == "" {
		event.ID = message.ID
	}

	return s.handler(ctx, event)
}

func (s *Subscriber) sleep(ctx context.Context) {
	t := time.NewTimer(s.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
