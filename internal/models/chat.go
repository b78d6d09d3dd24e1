package models

import (
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type MembershipState string

const (
	MembershipActive MembershipState = "active"
	MembershipLeft   MembershipState = "left"
)

type Chat struct {
	ID          string    `json:"id"`
	IsGroup     bool      `json:"is_group"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Active      bool      `json:"active"`
}

type Membership struct {
	ChatID      string          `json:"chat_id"`
	PrincipalID string          `json:"principal_id"`
	Role        Role            `json:"role"`
	State       MembershipState `json:"state"`
	UnreadCount int             `json:"unread_count"`
}

func (m Membership) IsActive() bool {
	return m.State == MembershipActive
}

type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	MediaURL  string      `json:"media_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Read      bool        `json:"read"`
	Deleted   bool        `json:"deleted"`
}

// Profile is the minimal public view of a principal used to enrich deliveries.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ChatSummary is one row of a principal's chat directory.
type ChatSummary struct {
	Chat             *Chat    `json:"chat"`
	LastMessage      *Message `json:"last_message,omitempty"`
	OtherParticipant *Profile `json:"other_participant,omitempty"`
	UnreadCount      int      `json:"unread_count"`
}

// LastActivity is the timestamp used to rank and deduplicate directory rows.
func (s ChatSummary) LastActivity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Chat.UpdatedAt
}

type NotificationRecord struct {
	RecipientID       string    `json:"recipient_id"`
	ChatID            string    `json:"chat_id"`
	MessageID         string    `json:"message_id"`
	SenderDisplayName string    `json:"sender_display_name"`
	Preview           string    `json:"preview"`
	Timestamp         time.Time `json:"timestamp"`
}

// MessageEvent is what realtime subscribers receive: the stored row plus the
// sender profile resolved at delivery time.
type MessageEvent struct {
	Message *Message `json:"message"`
	Sender  Profile  `json:"sender"`
}
