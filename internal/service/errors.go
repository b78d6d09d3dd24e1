package service

import (
	"errors"
	"fmt"

	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/realtime"
)

var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrNotAMember          = errors.New("user is not an active member of this chat")
	ErrNotMessageSender    = errors.New("only the sender can delete a message")
	ErrChatNotFound        = errors.New("chat not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrMessageConflict     = errors.New("message id already used for another message")
	ErrInvalidMessage      = models.ErrInvalidPayload
	ErrPersistence         = errors.New("persistence failure")
	ErrSubscription        = realtime.ErrSubscription
)

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func invalidParticipants(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParticipants, reason)
}
