// Package realtime delivers newly persisted messages to the viewers of a chat.
//
// Every chat has one logical stream. Each viewer gets its own Subscription
// with a bounded queue and a delivery goroutine, so one slow viewer never
// stalls the publisher or the other viewers. Delivery is at-least-once and
// carries no ordering guarantee across senders; clients reconcile by id.
package realtime

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"learnhub/messaging-service/internal/metrics"
	"learnhub/messaging-service/internal/models"

	"github.com/sirupsen/logrus"
)

var ErrSubscription = errors.New("subscription could not be established")

const DefaultQueueSize = 64

type Bus interface {
	Publish(ctx context.Context, msg *models.Message) error
	Subscribe(ctx context.Context, chatID string, handler func(*models.Message)) (*Subscription, error)
	Close() error
}

// Subscription is a live registration on a chat stream. It must be released
// with Unsubscribe, or by cancelling the context it was opened with.
type Subscription struct {
	ChatID string

	queue   chan *models.Message
	done    chan struct{}
	once    sync.Once
	release func()
	handler func(*models.Message)
	logger  *logrus.Logger
}

func newSubscription(chatID string, queueSize int, handler func(*models.Message), logger *logrus.Logger) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Subscription{
		ChatID:  chatID,
		queue:   make(chan *models.Message, queueSize),
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger,
	}
}

func (s *Subscription) start(ctx context.Context) {
	metrics.ActiveSubscriptions.Inc()
	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		}
	}()
}

func (s *Subscription) run() {
	for {
		select {
		case msg := <-s.queue:
			s.handle(msg)
		case <-s.done:
			return
		}
	}
}

// handle runs the handler for one event. A panicking handler loses that
// event only; the subscription keeps delivering.
func (s *Subscription) handle(msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			s.logger.WithFields(logrus.Fields{
				"chat_id":    s.ChatID,
				"message_id": msg.ID,
				"panic":      r,
				"stack":      string(debug.Stack()),
			}).Error("Subscriber handler panicked")
		}
	}()
	s.handler(msg)
}

// offer enqueues without blocking. A full queue drops the event.
func (s *Subscription) offer(msg *models.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- msg:
	default:
		metrics.EventsDropped.Inc()
		s.logger.WithFields(logrus.Fields{
			"chat_id":    s.ChatID,
			"message_id": msg.ID,
		}).Warn("Subscriber queue full, dropping event")
	}
}

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe detaches the subscription from its stream. Safe to call more
// than once and from any goroutine.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
		close(s.done)
		metrics.ActiveSubscriptions.Dec()
	})
}
