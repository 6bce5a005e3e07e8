package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/logger"
)

type subscriber struct {
	topic Topic
	ch    chan Event
}

// LocalBroker fans events out in-process. Slow subscribers drop events.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
	buffer int
}

func NewLocalBroker(buffer int) *LocalBroker {
	if buffer < 1 {
		buffer = 64
	}
	return &LocalBroker{subs: make(map[int]subscriber), buffer: buffer}
}

func (b *LocalBroker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.topic.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			logger.With("realtime").WithFields(logrus.Fields{
				"table": e.Table,
				"type":  e.Type,
			}).Warn("subscriber buffer full, dropping event")
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, topic Topic) (<-chan Event, error) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{topic: topic, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
