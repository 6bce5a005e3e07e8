package realtime

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/logger"
)

const channelPrefix = "pos:changes:"

// RedisBroker publishes change events over Redis pub/sub so every server
// instance sees them. One channel per table.
type RedisBroker struct {
	client *redis.Client
	buffer int
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, buffer: 64}
}

func channelFor(table string) string {
	return channelPrefix + table
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(e.Table), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic Topic) (<-chan Event, error) {
	var pubsub *redis.PubSub
	if topic.Table == "" {
		pubsub = b.client.PSubscribe(ctx, channelPrefix+"*")
	} else {
		pubsub = b.client.Subscribe(ctx, channelFor(topic.Table))
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Event, b.buffer)
	log := logger.With("realtime")
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					log.WithError(err).WithField("channel", msg.Channel).Warn("discarding malformed change event")
					continue
				}
				if !topic.Matches(e) {
					continue
				}
				select {
				case out <- e:
				default:
					log.WithField("table", e.Table).Warn("subscriber buffer full, dropping event")
				}
			}
		}
	}()
	return out, nil
}
