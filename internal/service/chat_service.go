package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"learnhub/messaging-service/internal/metrics"
	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/profile"
	"learnhub/messaging-service/internal/realtime"
	"learnhub/messaging-service/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

type ChatService interface {
	CreateChat(ctx context.Context, req CreateChatRequest) (*models.Chat, error)
	GetChat(ctx context.Context, requesterID, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, principalID string) ([]*models.ChatSummary, error)
	ListMembers(ctx context.Context, requesterID, chatID string) ([]*models.Membership, error)
	LeaveChat(ctx context.Context, principalID, chatID string) error

	SendMessage(ctx context.Context, req SendMessageRequest) (*models.Message, error)
	GetChatMessages(ctx context.Context, requesterID, chatID string, limit int, beforeMessageID string) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID, readerID string) (int, error)
	DeleteMessage(ctx context.Context, requesterID, messageID string) error

	Subscribe(ctx context.Context, requesterID, chatID string, onMessage func(models.MessageEvent)) (*realtime.Subscription, error)
}

// Notifier fans a persisted message out to the other members. It must not
// block the caller.
type Notifier interface {
	Dispatch(msg *models.Message, sender models.Profile)
}

type Realtime interface {
	Publish(ctx context.Context, msg *models.Message) error
	Subscribe(ctx context.Context, chatID string, onMessage func(models.MessageEvent)) (*realtime.Subscription, error)
}

type CreateChatRequest struct {
	RequesterID string   `validate:"required"`
	IsGroup     bool     `validate:"-"`
	DisplayName string   `validate:"required_if=IsGroup true,max=100"`
	MemberIDs   []string `validate:"required,min=1,dive,required"`
}

type chatService struct {
	repository repository.ChatRepository
	profiles   profile.Store
	notifier   Notifier
	realtime   Realtime
	logger     *logrus.Logger
	validate   *validator.Validate
	pairLocks  [64]sync.Mutex
}

func NewChatService(repo repository.ChatRepository, profiles profile.Store, notifier Notifier, rt Realtime, logger *logrus.Logger) ChatService {
	return &chatService{
		repository: repo,
		profiles:   profiles,
		notifier:   notifier,
		realtime:   rt,
		logger:     logger,
		validate:   validator.New(),
	}
}

func observe(operation string) func() {
	timer := prometheus.NewTimer(metrics.RepositoryLatency.WithLabelValues(operation))
	return func() { timer.ObserveDuration() }
}

func (s *chatService) CreateChat(ctx context.Context, req CreateChatRequest) (*models.Chat, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.MemberIDs = lo.Uniq(lo.Map(req.MemberIDs, func(id string, _ int) string { return strings.TrimSpace(id) }))

	if err := s.validate.Struct(req); err != nil {
		return nil, invalidParticipants(err.Error())
	}
	if lo.Contains(req.MemberIDs, req.RequesterID) {
		return nil, invalidParticipants("member list must not include the requester")
	}
	if !req.IsGroup && len(req.MemberIDs) != 1 {
		return nil, invalidParticipants("a private chat takes exactly one other member")
	}

	if !req.IsGroup {
		return s.createPrivateChat(ctx, req.RequesterID, req.MemberIDs[0])
	}
	return s.insertChat(ctx, req)
}

// createPrivateChat returns the existing one-to-one chat between the two
// principals if there is one, whoever created it.
func (s *chatService) createPrivateChat(ctx context.Context, requesterID, targetID string) (*models.Chat, error) {
	lock := s.pairLock(requesterID, targetID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.findPrivateChat(ctx, requesterID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.ChatsReused.Inc()
		return existing, nil
	}

	return s.insertChat(ctx, CreateChatRequest{
		RequesterID: requesterID,
		MemberIDs:   []string{targetID},
	})
}

func (s *chatService) findPrivateChat(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	defer observe("find_private_chats")()

	chats, err := s.repository.FindPrivateChats(ctx, userID1, userID2)
	if err != nil {
		return nil, persistenceError("find private chat", err)
	}
	switch len(chats) {
	case 0:
		return nil, nil
	case 1:
		return chats[0], nil
	}

	s.logger.WithFields(logrus.Fields{
		"user_id1": userID1,
		"user_id2": userID2,
		"count":    len(chats),
	}).Warn("Multiple private chats between the same users, using the most recently active")

	last, err := s.repository.GetLastMessages(ctx, lo.Map(chats, func(c *models.Chat, _ int) string { return c.ID }))
	if err != nil {
		return nil, persistenceError("find private chat", err)
	}
	return lo.MaxBy(chats, func(a, b *models.Chat) bool {
		return activity(a, last[a.ID]).After(activity(b, last[b.ID]))
	}), nil
}

func activity(chat *models.Chat, last *models.Message) time.Time {
	return models.ChatSummary{Chat: chat, LastMessage: last}.LastActivity()
}

func (s *chatService) insertChat(ctx context.Context, req CreateChatRequest) (*models.Chat, error) {
	chat := &models.Chat{
		ID:        uuid.New().String(),
		IsGroup:   req.IsGroup,
		CreatedBy: req.RequesterID,
	}
	if req.IsGroup {
		chat.DisplayName = req.DisplayName
	}

	members := []*models.Membership{{
		PrincipalID: req.RequesterID,
		Role:        models.RoleAdmin,
		State:       models.MembershipActive,
	}}
	for _, id := range req.MemberIDs {
		members = append(members, &models.Membership{
			PrincipalID: id,
			Role:        models.RoleMember,
			State:       models.MembershipActive,
		})
	}

	done := observe("create_chat")
	err := s.repository.CreateChat(ctx, chat, members)
	done()
	if err != nil {
		s.logger.WithError(err).Error("Failed to create chat")
		return nil, persistenceError("create chat", err)
	}

	metrics.ChatsCreated.WithLabelValues(lo.Ternary(chat.IsGroup, "group", "private")).Inc()
	s.logger.WithFields(logrus.Fields{
		"chat_id":  chat.ID,
		"is_group": chat.IsGroup,
		"members":  len(members),
	}).Info("Chat created")

	return chat, nil
}

func (s *chatService) pairLock(a, b string) *sync.Mutex {
	if a > b {
		a, b = b, a
	}
	h := fnv.New32a()
	h.Write([]byte(a + "\x00" + b))
	return &s.pairLocks[h.Sum32()%uint32(len(s.pairLocks))]
}

func (s *chatService) loadChat(ctx context.Context, chatID string) (*models.Chat, error) {
	if _, err := uuid.Parse(chatID); err != nil {
		return nil, ErrChatNotFound
	}
	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, persistenceError("get chat", err)
	}
	if !chat.Active {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *chatService) requireActiveMember(ctx context.Context, chatID, principalID string) (*models.Membership, error) {
	m, err := s.repository.GetMembership(ctx, chatID, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAMember
		}
		return nil, persistenceError("get membership", err)
	}
	if !m.IsActive() {
		return nil, ErrNotAMember
	}
	return m, nil
}

func (s *chatService) GetChat(ctx context.Context, requesterID, chatID string) (*models.Chat, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireActiveMember(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *chatService) ListMembers(ctx context.Context, requesterID, chatID string) ([]*models.Membership, error) {
	if _, err := s.GetChat(ctx, requesterID, chatID); err != nil {
		return nil, err
	}
	members, err := s.repository.GetActiveMembers(ctx, []string{chatID})
	if err != nil {
		return nil, persistenceError("list members", err)
	}
	return members, nil
}

func (s *chatService) LeaveChat(ctx context.Context, principalID, chatID string) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return invalidParticipants("private chats cannot be left")
	}
	if _, err := s.requireActiveMember(ctx, chatID, principalID); err != nil {
		return err
	}

	// The notice is written while the sender still holds an active membership.
	sender := s.profile(ctx, principalID)
	notice := &models.Message{
		ID:       ulid.Make().String(),
		ChatID:   chatID,
		SenderID: principalID,
	}
	models.Apply(notice, models.System{Body: fmt.Sprintf("%s left the chat", sender.DisplayName)})
	if _, err := s.persist(ctx, notice, sender); err != nil {
		s.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to post leave notice")
	}

	if err := s.repository.UpdateMembershipState(ctx, chatID, principalID, models.MembershipLeft); err != nil {
		return persistenceError("leave chat", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":      chatID,
		"principal_id": principalID,
	}).Info("Member left chat")
	return nil
}

func (s *chatService) profile(ctx context.Context, principalID string) models.Profile {
	p, err := s.profiles.GetProfile(ctx, principalID)
	if err != nil {
		s.logger.WithError(err).WithField("principal_id", principalID).Warn("Profile lookup failed")
		return profile.Fallback(principalID)
	}
	return p
}

func (s *chatService) Subscribe(ctx context.Context, requesterID, chatID string, onMessage func(models.MessageEvent)) (*realtime.Subscription, error) {
	if _, err := s.GetChat(ctx, requesterID, chatID); err != nil {
		return nil, err
	}
	sub, err := s.realtime.Subscribe(ctx, chatID, onMessage)
	if err != nil {
		s.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to open realtime subscription")
		if errors.Is(err, ErrSubscription) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	return sub, nil
}
