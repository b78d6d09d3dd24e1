package service

import (
	"context"
	"sort"

	"learnhub/messaging-service/internal/models"

	"github.com/samber/lo"
)

// ListChats builds the principal's chat directory. Historical re-creation can
// leave several private chats with the same person; only the most recently
// active one per counterpart is kept.
func (s *chatService) ListChats(ctx context.Context, principalID string) ([]*models.ChatSummary, error) {
	defer observe("list_chats")()

	memberships, err := s.repository.GetUserMemberships(ctx, principalID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, persistenceError("list memberships", err)
	}
	if len(memberships) == 0 {
		return []*models.ChatSummary{}, nil
	}
	unread := lo.SliceToMap(memberships, func(m *models.Membership) (string, int) {
		return m.ChatID, m.UnreadCount
	})

	chats, err := s.repository.GetChatsByIDs(ctx, lo.Keys(unread))
	if err != nil {
		return nil, persistenceError("list chats", err)
	}
	chats = lo.Filter(chats, func(c *models.Chat, _ int) bool { return c.Active })
	chatIDs := lo.Map(chats, func(c *models.Chat, _ int) string { return c.ID })

	last, err := s.repository.GetLastMessages(ctx, chatIDs)
	if err != nil {
		return nil, persistenceError("last messages", err)
	}

	privateIDs := lo.FilterMap(chats, func(c *models.Chat, _ int) (string, bool) { return c.ID, !c.IsGroup })
	members, err := s.repository.GetActiveMembers(ctx, privateIDs)
	if err != nil {
		return nil, persistenceError("private chat members", err)
	}
	others := make(map[string]string, len(privateIDs))
	for _, m := range members {
		if m.PrincipalID != principalID {
			others[m.ChatID] = m.PrincipalID
		}
	}

	kept := make(map[string]*models.ChatSummary, len(chats))
	for _, chat := range chats {
		summary := &models.ChatSummary{
			Chat:        chat,
			LastMessage: last[chat.ID],
			UnreadCount: unread[chat.ID],
		}

		key := "group-" + chat.ID
		if !chat.IsGroup {
			if other, ok := others[chat.ID]; ok {
				key = "private-" + other
				p := s.profile(ctx, other)
				summary.OtherParticipant = &p
			} else {
				key = "private-chat-" + chat.ID
			}
		}

		if prev, ok := kept[key]; !ok || newer(summary, prev) {
			kept[key] = summary
		}
	}

	result := lo.Values(kept)
	sort.Slice(result, func(i, j int) bool { return newer(result[i], result[j]) })
	return result, nil
}

// newer orders summaries by most recent activity, falling back to chat id so
// the order is total.
func newer(a, b *models.ChatSummary) bool {
	ta, tb := a.LastActivity(), b.LastActivity()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.Chat.ID > b.Chat.ID
}
