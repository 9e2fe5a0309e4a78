package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// eventChannel carries live events for dashboards over Pub/Sub.
	eventChannel = "updownbot:events"
	// eventStream keeps a bounded replayable history of the same events.
	eventStream = "updownbot:events:stream"
	// streamMaxLen is the approximate stream cap, enforced via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
)

// EventBus publishes structured trading events to Redis twice: Pub/Sub for
// live consumers and a capped stream for short-term replay.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.rdb}
}

// busEvent is the wire shape of one published event.
type busEvent struct {
	Event  string         `json:"event"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Publish fans one event out to the channel and the stream. A pipeline keeps
// it to a single round trip.
func (b *EventBus) Publish(ctx context.Context, event string, fields map[string]any) error {
	payload, err := json.Marshal(busEvent{
		Event:  event,
		At:     time.Now().UTC(),
		Fields: fields,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event, err)
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, eventChannel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event, err)
	}
	return nil
}

// Subscribe returns a channel of raw event payloads from Pub/Sub. The
// subscription closes with the context.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, eventChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", eventChannel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
