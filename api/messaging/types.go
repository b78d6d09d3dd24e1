// Package messaging holds the wire contract of the messaging service: request
// and response types, the gRPC service description and a client.
//
// Payloads travel as JSON through the codec registered by this package, so
// callers need no generated code.
package messaging

import "time"

type Chat struct {
	ID          string    `json:"id"`
	IsGroup     bool      `json:"is_group"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Member struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
	State       string `json:"state"`
	UnreadCount int32  `json:"unread_count"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
	Deleted   bool      `json:"deleted,omitempty"`
}

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type ChatSummary struct {
	Chat             *Chat    `json:"chat"`
	LastMessage      *Message `json:"last_message,omitempty"`
	OtherParticipant *Profile `json:"other_participant,omitempty"`
	UnreadCount      int32    `json:"unread_count"`
}

type MessageEvent struct {
	Message *Message `json:"message"`
	Sender  *Profile `json:"sender"`
}

type CreateChatRequest struct {
	RequesterID string   `json:"requester_id"`
	IsGroup     bool     `json:"is_group"`
	DisplayName string   `json:"display_name,omitempty"`
	MemberIDs   []string `json:"member_ids"`
}

type CreateChatResponse struct {
	Chat *Chat `json:"chat"`
}

type GetChatRequest struct {
	RequesterID string `json:"requester_id"`
	ChatID      string `json:"chat_id"`
}

type GetChatResponse struct {
	Chat *Chat `json:"chat"`
}

type ListChatsRequest struct {
	PrincipalID string `json:"principal_id"`
}

type ListChatsResponse struct {
	Chats []*ChatSummary `json:"chats"`
}

type ListMembersRequest struct {
	RequesterID string `json:"requester_id"`
	ChatID      string `json:"chat_id"`
}

type ListMembersResponse struct {
	Members []*Member `json:"members"`
}

type LeaveChatRequest struct {
	PrincipalID string `json:"principal_id"`
	ChatID      string `json:"chat_id"`
}

type LeaveChatResponse struct{}

type SendMessageRequest struct {
	ClientMessageID string `json:"client_message_id,omitempty"`
	SenderID        string `json:"sender_id"`
	ChatID          string `json:"chat_id"`
	Kind            string `json:"kind,omitempty"`
	Body            string `json:"body"`
	MediaURL        string `json:"media_url,omitempty"`
}

type SendMessageResponse struct {
	Message *Message `json:"message"`
}

type GetHistoryRequest struct {
	RequesterID     string `json:"requester_id"`
	ChatID          string `json:"chat_id"`
	Limit           int32  `json:"limit,omitempty"`
	BeforeMessageID string `json:"before_message_id,omitempty"`
}

type GetHistoryResponse struct {
	Messages []*Message `json:"messages"`
}

type MarkReadRequest struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
}

type MarkReadResponse struct {
	MarkedCount int32 `json:"marked_count"`
}

type DeleteMessageRequest struct {
	RequesterID string `json:"requester_id"`
	MessageID   string `json:"message_id"`
}

type DeleteMessageResponse struct{}

type SubscribeRequest struct {
	RequesterID string `json:"requester_id"`
	ChatID      string `json:"chat_id"`
}
