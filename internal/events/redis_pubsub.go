package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

// Publish is fire-and-forget: Redis pub/sub drops messages nobody is
// listening for, so events are notifications, never the source of truth.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event Event) error {
	data, err := encodeEvent(stream, event, time.Now())
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, stream, data).Err()
}

type RedisSubscriber struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, log *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, handler func(Event), streams ...string) error {
	if len(streams) == 0 {
		return errors.New("events: no streams to subscribe to")
	}

	pubsub := s.client.Subscribe(ctx, streams...)
	// Wait for the subscription confirmation so a dead Redis fails here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Channel, []byte(msg.Payload))
				if err != nil {
					s.log.Error("failed to unmarshal event", zap.String("stream", msg.Channel), zap.Error(err))
					continue
				}
				handler(event)
			}
		}
	}()

	return nil
}

func encodeEvent(stream string, event Event, now time.Time) ([]byte, error) {
	event.Stream = stream
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now.UTC()
	}
	return json.Marshal(event)
}

func decodeEvent(channel string, data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	if event.Stream == "" {
		event.Stream = channel
	}
	return event, nil
}
