package service

import (
	"context"
	"errors"
	"fmt"

	"learnhub/messaging-service/internal/metrics"
	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/repository"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type SendMessageRequest struct {
	// ClientMessageID is an optional ULID chosen by the client. Retrying a
	// send with the same id returns the stored message instead of a copy.
	ClientMessageID string
	SenderID        string
	ChatID          string
	Payload         models.Payload
}

func (s *chatService) SendMessage(ctx context.Context, req SendMessageRequest) (*models.Message, error) {
	if req.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	if err := req.Payload.Validate(); err != nil {
		metrics.SendFailures.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if req.Payload.Kind() == models.KindSystem {
		metrics.SendFailures.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: system messages cannot be sent by users", ErrInvalidMessage)
	}

	id := ulid.Make().String()
	if req.ClientMessageID != "" {
		parsed, err := ulid.ParseStrict(req.ClientMessageID)
		if err != nil {
			return nil, fmt.Errorf("%w: client message id: %v", ErrInvalidMessage, err)
		}
		id = parsed.String()
	}

	if _, err := s.loadChat(ctx, req.ChatID); err != nil {
		metrics.SendFailures.WithLabelValues("chat").Inc()
		return nil, err
	}
	if _, err := s.requireActiveMember(ctx, req.ChatID, req.SenderID); err != nil {
		metrics.SendFailures.WithLabelValues("membership").Inc()
		return nil, err
	}

	msg := &models.Message{
		ID:       id,
		ChatID:   req.ChatID,
		SenderID: req.SenderID,
	}
	models.Apply(msg, req.Payload)
	want := *msg

	// Persistence and the side effects run detached from the caller: a client
	// that navigates away mid-send does not cancel the write.
	created, err := s.persist(context.WithoutCancel(ctx), msg, models.Profile{})
	if err != nil {
		metrics.SendFailures.WithLabelValues("persistence").Inc()
		s.logger.WithError(err).WithField("chat_id", req.ChatID).Error("Failed to send message")
		return nil, err
	}
	if !created && !sameContent(msg, &want) {
		return nil, ErrMessageConflict
	}

	return msg, nil
}

func sameContent(stored, sent *models.Message) bool {
	return stored.ChatID == sent.ChatID &&
		stored.SenderID == sent.SenderID &&
		stored.Kind == sent.Kind &&
		stored.Body == sent.Body &&
		stored.MediaURL == sent.MediaURL
}

// persist stores msg and, when a new row was written, publishes it and
// starts notification fan-out. A zero sender profile is resolved here.
func (s *chatService) persist(ctx context.Context, msg *models.Message, sender models.Profile) (bool, error) {
	done := observe("create_message")
	created, err := s.repository.CreateMessage(ctx, msg)
	done()
	if err != nil {
		return false, persistenceError("create message", err)
	}
	if !created {
		s.logger.WithField("message_id", msg.ID).Debug("Duplicate send, returning stored message")
		return false, nil
	}

	metrics.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	s.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
		"sender_id":  msg.SenderID,
		"kind":       msg.Kind,
	}).Info("Message sent")

	if err := s.realtime.Publish(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to publish realtime event")
	}

	if sender.ID == "" {
		sender = s.profile(ctx, msg.SenderID)
	}
	s.notifier.Dispatch(msg, sender)

	return true, nil
}

func (s *chatService) GetChatMessages(ctx context.Context, requesterID, chatID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	if _, err := s.GetChat(ctx, requesterID, chatID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	defer observe("get_chat_messages")()
	messages, err := s.repository.GetChatMessages(ctx, chatID, limit, beforeMessageID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, persistenceError("get chat messages", err)
	}

	return messages, nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, chatID, readerID string) (int, error) {
	if _, err := s.GetChat(ctx, readerID, chatID); err != nil {
		return 0, err
	}

	count, err := s.repository.MarkMessagesAsRead(ctx, chatID, readerID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return 0, persistenceError("mark read", err)
	}

	if count > 0 {
		s.logger.WithFields(logrus.Fields{
			"chat_id":   chatID,
			"reader_id": readerID,
			"count":     count,
		}).Debug("Messages marked as read")
	}
	return count, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, requesterID, messageID string) error {
	msg, err := s.repository.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return persistenceError("get message", err)
	}
	if msg.SenderID != requesterID {
		return ErrNotMessageSender
	}
	if msg.Deleted {
		return nil
	}

	if err := s.repository.SoftDeleteMessage(ctx, messageID); err != nil {
		return persistenceError("delete message", err)
	}
	s.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"chat_id":    msg.ChatID,
	}).Info("Message deleted")
	return nil
}
