package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "messaging:conversations"

// Handler receives events read from the broker.
type Handler func(event models.ConversationEvent)

// RedisBroker fans conversation events out to every server instance through a
// Redis pub/sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisBroker(client *redis.Client, channel string, logger *zap.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, event models.ConversationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe blocks until ctx is done, passing every decodable event on the
// channel to handle.
func (b *RedisBroker) Subscribe(ctx context.Context, handle Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("drop malformed conversation event", zap.Error(err))
				continue
			}
			handle(event)
		}
	}
}

func DecodeEvent(payload []byte) (models.ConversationEvent, error) {
	var event models.ConversationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.ConversationEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" || !event.Key().Valid() {
		return models.ConversationEvent{}, errors.New("decode event: missing type or conversation")
	}
	return event, nil
}
