package grpc

import (
	"context"
	"errors"

	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/service"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	pb "learnhub/messaging-service/api/messaging"
)

const subscriberBuffer = 16

var _ pb.MessagingServiceServer = (*ChatServer)(nil)

type ChatServer struct {
	service service.ChatService
	logger  *logrus.Logger
}

func NewChatServer(svc service.ChatService, logger *logrus.Logger) *ChatServer {
	return &ChatServer{
		service: svc,
		logger:  logger,
	}
}

func (s *ChatServer) CreateChat(ctx context.Context, req *pb.CreateChatRequest) (*pb.CreateChatResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"requester_id": req.RequesterID,
		"is_group":     req.IsGroup,
		"members":      len(req.MemberIDs),
	}).Info("Creating chat via gRPC")

	chat, err := s.service.CreateChat(ctx, service.CreateChatRequest{
		RequesterID: req.RequesterID,
		IsGroup:     req.IsGroup,
		DisplayName: req.DisplayName,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		return nil, s.toStatus(err, "failed to create chat")
	}

	return &pb.CreateChatResponse{Chat: chatToProto(chat)}, nil
}

func (s *ChatServer) GetChat(ctx context.Context, req *pb.GetChatRequest) (*pb.GetChatResponse, error) {
	s.logger.WithField("chat_id", req.ChatID).Debug("Getting chat via gRPC")

	chat, err := s.service.GetChat(ctx, req.RequesterID, req.ChatID)
	if err != nil {
		return nil, s.toStatus(err, "failed to get chat")
	}

	return &pb.GetChatResponse{Chat: chatToProto(chat)}, nil
}

func (s *ChatServer) ListChats(ctx context.Context, req *pb.ListChatsRequest) (*pb.ListChatsResponse, error) {
	s.logger.WithField("principal_id", req.PrincipalID).Debug("Listing chats via gRPC")

	summaries, err := s.service.ListChats(ctx, req.PrincipalID)
	if err != nil {
		return nil, s.toStatus(err, "failed to list chats")
	}

	return &pb.ListChatsResponse{
		Chats: lo.Map(summaries, func(sum *models.ChatSummary, _ int) *pb.ChatSummary {
			return summaryToProto(sum)
		}),
	}, nil
}

func (s *ChatServer) ListMembers(ctx context.Context, req *pb.ListMembersRequest) (*pb.ListMembersResponse, error) {
	members, err := s.service.ListMembers(ctx, req.RequesterID, req.ChatID)
	if err != nil {
		return nil, s.toStatus(err, "failed to list members")
	}

	return &pb.ListMembersResponse{
		Members: lo.Map(members, func(m *models.Membership, _ int) *pb.Member {
			return &pb.Member{
				PrincipalID: m.PrincipalID,
				Role:        string(m.Role),
				State:       string(m.State),
				UnreadCount: int32(m.UnreadCount),
			}
		}),
	}, nil
}

func (s *ChatServer) LeaveChat(ctx context.Context, req *pb.LeaveChatRequest) (*pb.LeaveChatResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":      req.ChatID,
		"principal_id": req.PrincipalID,
	}).Info("Leaving chat via gRPC")

	if err := s.service.LeaveChat(ctx, req.PrincipalID, req.ChatID); err != nil {
		return nil, s.toStatus(err, "failed to leave chat")
	}
	return &pb.LeaveChatResponse{}, nil
}

func (s *ChatServer) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatID,
		"sender_id": req.SenderID,
		"kind":      req.Kind,
	}).Info("Sending message via gRPC")

	payload, err := payloadFromProto(req)
	if err != nil {
		return nil, s.toStatus(err, "invalid message")
	}

	msg, err := s.service.SendMessage(ctx, service.SendMessageRequest{
		ClientMessageID: req.ClientMessageID,
		SenderID:        req.SenderID,
		ChatID:          req.ChatID,
		Payload:         payload,
	})
	if err != nil {
		return nil, s.toStatus(err, "failed to send message")
	}

	return &pb.SendMessageResponse{Message: messageToProto(msg)}, nil
}

func (s *ChatServer) GetHistory(ctx context.Context, req *pb.GetHistoryRequest) (*pb.GetHistoryResponse, error) {
	s.logger.WithField("chat_id", req.ChatID).Debug("Getting chat history via gRPC")

	messages, err := s.service.GetChatMessages(ctx, req.RequesterID, req.ChatID, int(req.Limit), req.BeforeMessageID)
	if err != nil {
		return nil, s.toStatus(err, "failed to get chat history")
	}

	return &pb.GetHistoryResponse{Messages: lo.Map(messages, func(m *models.Message, _ int) *pb.Message {
		return messageToProto(m)
	})}, nil
}

func (s *ChatServer) MarkRead(ctx context.Context, req *pb.MarkReadRequest) (*pb.MarkReadResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatID,
		"reader_id": req.ReaderID,
	}).Info("Marking messages as read via gRPC")

	count, err := s.service.MarkMessagesAsRead(ctx, req.ChatID, req.ReaderID)
	if err != nil {
		return nil, s.toStatus(err, "failed to mark messages as read")
	}

	return &pb.MarkReadResponse{MarkedCount: int32(count)}, nil
}

func (s *ChatServer) DeleteMessage(ctx context.Context, req *pb.DeleteMessageRequest) (*pb.DeleteMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"message_id":   req.MessageID,
		"requester_id": req.RequesterID,
	}).Info("Deleting message via gRPC")

	if err := s.service.DeleteMessage(ctx, req.RequesterID, req.MessageID); err != nil {
		return nil, s.toStatus(err, "failed to delete message")
	}
	return &pb.DeleteMessageResponse{}, nil
}

// Subscribe streams new messages of a chat until the client goes away. The
// subscription header is sent before the first event so clients can tell an
// open stream from a failed one.
func (s *ChatServer) Subscribe(req *pb.SubscribeRequest, stream pb.SubscribeServer) error {
	ctx := stream.Context()
	logger := s.logger.WithFields(logrus.Fields{
		"chat_id":      req.ChatID,
		"requester_id": req.RequesterID,
	})

	events := make(chan models.MessageEvent, subscriberBuffer)
	sub, err := s.service.Subscribe(ctx, req.RequesterID, req.ChatID, func(e models.MessageEvent) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return s.toStatus(err, "failed to subscribe")
	}
	defer sub.Unsubscribe()

	if err := stream.SendHeader(metadata.Pairs(pb.SubscribedHeader, "true")); err != nil {
		return err
	}
	logger.Info("Realtime subscriber attached")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Realtime subscriber detached")
			return nil
		case <-sub.Done():
			if ctx.Err() != nil {
				return nil
			}
			return status.Error(codes.Unavailable, "subscription closed")
		case e := <-events:
			if err := stream.Send(eventToProto(e)); err != nil {
				logger.WithError(err).Warn("Failed to push event to subscriber")
				return err
			}
		}
	}
}

func (s *ChatServer) toStatus(err error, msg string) error {
	var code codes.Code
	switch {
	case errors.Is(err, service.ErrInvalidParticipants), errors.Is(err, service.ErrInvalidMessage):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrNotAMember), errors.Is(err, service.ErrNotMessageSender):
		code = codes.PermissionDenied
	case errors.Is(err, service.ErrChatNotFound), errors.Is(err, service.ErrMessageNotFound):
		code = codes.NotFound
	case errors.Is(err, service.ErrMessageConflict):
		code = codes.AlreadyExists
	case errors.Is(err, service.ErrSubscription), errors.Is(err, service.ErrPersistence):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}

	entry := s.logger.WithError(err).WithField("code", code.String())
	if code == codes.Internal || code == codes.Unavailable {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	return status.Errorf(code, "%s: %v", msg, err)
}

func payloadFromProto(req *pb.SendMessageRequest) (models.Payload, error) {
	kind := models.KindText
	if req.Kind != "" {
		parsed, err := models.ParseMessageKind(req.Kind)
		if err != nil {
			return nil, errors.Join(models.ErrInvalidPayload, err)
		}
		kind = parsed
	}
	return models.NewPayload(kind, req.Body, req.MediaURL)
}

func chatToProto(chat *models.Chat) *pb.Chat {
	return &pb.Chat{
		ID:          chat.ID,
		IsGroup:     chat.IsGroup,
		DisplayName: chat.DisplayName,
		CreatedBy:   chat.CreatedBy,
		CreatedAt:   chat.CreatedAt,
		UpdatedAt:   chat.UpdatedAt,
	}
}

func messageToProto(msg *models.Message) *pb.Message {
	return &pb.Message{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Kind:      string(msg.Kind),
		MediaURL:  msg.MediaURL,
		CreatedAt: msg.CreatedAt,
		Read:      msg.Read,
		Deleted:   msg.Deleted,
	}
}

func profileToProto(p models.Profile) *pb.Profile {
	return &pb.Profile{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

func summaryToProto(sum *models.ChatSummary) *pb.ChatSummary {
	out := &pb.ChatSummary{
		Chat:        chatToProto(sum.Chat),
		UnreadCount: int32(sum.UnreadCount),
	}
	if sum.LastMessage != nil {
		out.LastMessage = messageToProto(sum.LastMessage)
	}
	if sum.OtherParticipant != nil {
		out.OtherParticipant = profileToProto(*sum.OtherParticipant)
	}
	return out
}

func eventToProto(e models.MessageEvent) *pb.MessageEvent {
	return &pb.MessageEvent{
		Message: messageToProto(e.Message),
		Sender:  profileToProto(e.Sender),
	}
}
