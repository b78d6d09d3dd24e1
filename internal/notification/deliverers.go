package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"learnhub/messaging-service/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type LogDeliverer struct {
	logger *logrus.Logger
}

func NewLogDeliverer(logger *logrus.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(ctx context.Context, record models.NotificationRecord) error {
	d.logger.WithFields(logrus.Fields{
		"recipient_id": record.RecipientID,
		"chat_id":      record.ChatID,
		"message_id":   record.MessageID,
		"sender":       record.SenderDisplayName,
	}).Debug("Notification")
	return nil
}

// RedisDeliverer keeps a capped per-recipient inbox list and publishes each
// record on the recipient's channel for online clients.
type RedisDeliverer struct {
	client   redis.UniversalClient
	maxItems int64
	ttl      time.Duration
}

func NewRedisDeliverer(client redis.UniversalClient, maxItems int64, ttl time.Duration) *RedisDeliverer {
	if maxItems <= 0 {
		maxItems = 100
	}
	return &RedisDeliverer{client: client, maxItems: maxItems, ttl: ttl}
}

func notificationsKey(recipientID string) string {
	return fmt.Sprintf("notifications:%s", recipientID)
}

func (d *RedisDeliverer) Deliver(ctx context.Context, record models.NotificationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := notificationsKey(record.RecipientID)
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, d.maxItems-1)
	if d.ttl > 0 {
		pipe.Expire(ctx, key, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return d.client.Publish(ctx, key, data).Err()
}

// Recent returns the newest records of a recipient's inbox, newest first.
func (d *RedisDeliverer) Recent(ctx context.Context, recipientID string, limit int64) ([]models.NotificationRecord, error) {
	raw, err := d.client.LRange(ctx, notificationsKey(recipientID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]models.NotificationRecord, 0, len(raw))
	for _, item := range raw {
		var record models.NotificationRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// MultiDeliverer hands each record to every deliverer; one failing does not
// stop the others.
type MultiDeliverer []Deliverer

func (m MultiDeliverer) Deliver(ctx context.Context, record models.NotificationRecord) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
