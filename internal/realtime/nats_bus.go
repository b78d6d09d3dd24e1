package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"learnhub/messaging-service/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const flushTimeout = 2 * time.Second

// NatsBus carries message events over NATS core subjects so that every
// service replica sees every send.
type NatsBus struct {
	nc        *nats.Conn
	prefix    string
	queueSize int
	logger    *logrus.Logger
}

func NewNatsBus(url, prefix string, queueSize int, logger *logrus.Logger) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("messaging-service"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsBus{nc: nc, prefix: prefix, queueSize: queueSize, logger: logger}, nil
}

func (b *NatsBus) subject(chatID string) string {
	return fmt.Sprintf("%s.%s", b.prefix, chatID)
}

func (b *NatsBus) Publish(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	subject := b.subject(msg.ChatID)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to subject '%s': %w", subject, err)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, chatID string, handler func(*models.Message)) (*Subscription, error) {
	subject := b.subject(chatID)
	sub := newSubscription(chatID, b.queueSize, handler, b.logger)

	natsSub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		var msg models.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.WithError(err).WithField("subject", m.Subject).Warn("Dropping undecodable message event")
			return
		}
		sub.offer(&msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subject '%s': %v", ErrSubscription, subject, err)
	}
	// Make sure the server has registered interest before the caller relies on it.
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("%w: subject '%s': %v", ErrSubscription, subject, err)
	}

	sub.release = func() {
		if err := natsSub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			b.logger.WithError(err).WithField("subject", subject).Warn("Failed to unsubscribe from NATS")
		}
	}
	sub.start(ctx)
	return sub, nil
}

// Ping reports whether the connection to NATS is currently usable.
func (b *NatsBus) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats connection is %s", b.nc.Status())
	}
	return nil
}

func (b *NatsBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
