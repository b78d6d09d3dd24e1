package realtime

import (
	"context"
	"sync"

	"learnhub/messaging-service/internal/models"

	"github.com/sirupsen/logrus"
)

// MemoryBus multiplexes subscriptions inside one process.
type MemoryBus struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{}
	queueSize int
	logger    *logrus.Logger
}

func NewMemoryBus(queueSize int, logger *logrus.Logger) *MemoryBus {
	return &MemoryBus{
		subs:      make(map[string]map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, msg *models.Message) error {
	b.mu.RLock()
	snapshot := make([]*Subscription, 0, len(b.subs[msg.ChatID]))
	for s := range b.subs[msg.ChatID] {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.offer(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, chatID string, handler func(*models.Message)) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(chatID, b.queueSize, handler, b.logger)
	sub.release = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[chatID], sub)
		if len(b.subs[chatID]) == 0 {
			delete(b.subs, chatID)
		}
	}

	b.mu.Lock()
	if b.subs[chatID] == nil {
		b.subs[chatID] = make(map[*Subscription]struct{})
	}
	b.subs[chatID][sub] = struct{}{}
	b.mu.Unlock()

	sub.start(ctx)
	return sub, nil
}

// Subscribers reports the number of open subscriptions on a chat.
func (b *MemoryBus) Subscribers(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[chatID])
}

func (b *MemoryBus) Close() error {
	b.mu.RLock()
	var all []*Subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range all {
		s.Unsubscribe()
	}
	return nil
}
