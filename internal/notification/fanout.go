// Package notification pushes a short summary of each sent message to the
// other active members of the chat.
//
// Delivery is best-effort: a failing recipient is logged and counted, never
// retried, and never reported back to the sender. Persistence of the message
// has already succeeded by the time Fanout runs.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"learnhub/messaging-service/internal/metrics"
	"learnhub/messaging-service/internal/models"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const previewLimit = 50

type Deliverer interface {
	Deliver(ctx context.Context, record models.NotificationRecord) error
}

type MemberLister interface {
	GetActiveMembers(ctx context.Context, chatIDs []string) ([]*models.Membership, error)
}

type Fanout struct {
	members   MemberLister
	deliverer Deliverer
	logger    *logrus.Logger
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewFanout(members MemberLister, deliverer Deliverer, logger *logrus.Logger, timeout time.Duration) *Fanout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{
		members:   members,
		deliverer: deliverer,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Dispatch runs Notify on its own goroutine with a context that is not tied
// to the sender's request, so an abandoned request still notifies.
func (f *Fanout) Dispatch(msg *models.Message, sender models.Profile) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.Notify(context.Background(), msg.ChatID, msg, sender)
	}()
}

// Wait blocks until every dispatched fan-out has finished.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) Notify(ctx context.Context, chatID string, msg *models.Message, sender models.Profile) {
	members, err := f.members.GetActiveMembers(ctx, []string{chatID})
	if err != nil {
		f.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to resolve notification recipients")
		metrics.NotificationsDelivered.WithLabelValues("error").Inc()
		return
	}

	recipients := lo.FilterMap(members, func(m *models.Membership, _ int) (string, bool) {
		return m.PrincipalID, m.ChatID == chatID && m.PrincipalID != msg.SenderID
	})
	recipients = lo.Uniq(recipients)

	preview := Preview(msg)
	stamp := f.now().UTC()

	var wg sync.WaitGroup
	for _, recipient := range recipients {
		record := models.NotificationRecord{
			RecipientID:       recipient,
			ChatID:            chatID,
			MessageID:         msg.ID,
			SenderDisplayName: sender.DisplayName,
			Preview:           preview,
			Timestamp:         stamp,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.deliver(ctx, record)
		}()
	}
	wg.Wait()
}

func (f *Fanout) deliver(ctx context.Context, record models.NotificationRecord) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("deliverer panic: %v", r)
			}
		}()
		return f.deliverer.Deliver(ctx, record)
	}()

	if err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id":      record.ChatID,
			"message_id":   record.MessageID,
			"recipient_id": record.RecipientID,
		}).Warn("Notification delivery failed")
		metrics.NotificationsDelivered.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsDelivered.WithLabelValues("ok").Inc()
}

// Preview returns at most previewLimit runes of the body, with "..." appended
// when it was cut. Media messages without a caption preview as "[kind]".
func Preview(msg *models.Message) string {
	payload, err := models.PayloadOf(msg)
	if err != nil {
		payload = models.Text{Body: msg.Body}
	}

	var body string
	switch p := payload.(type) {
	case models.Media:
		if strings.TrimSpace(p.Caption) == "" {
			return "[" + string(p.MediaKind) + "]"
		}
		body = p.Caption
	case models.Text:
		body = p.Body
	case models.System:
		body = p.Body
	}
	if utf8.RuneCountInString(body) <= previewLimit {
		return body
	}
	return string([]rune(body)[:previewLimit]) + "..."
}
