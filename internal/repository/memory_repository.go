package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"learnhub/messaging-service/internal/models"

	"github.com/samber/lo"
)

type membershipKey struct {
	chatID      string
	principalID string
}

// memoryRepository keeps everything in process. It backs the "memory"
// storage driver and the service tests.
type memoryRepository struct {
	mu          sync.RWMutex
	chats       map[string]*models.Chat
	memberships map[membershipKey]*models.Membership
	messages    map[string]*models.Message
	byChat      map[string][]string
	lastStamp   time.Time
	now         func() time.Time
}

func NewMemoryRepository() ChatRepository {
	return &memoryRepository{
		chats:       make(map[string]*models.Chat),
		memberships: make(map[membershipKey]*models.Membership),
		messages:    make(map[string]*models.Message),
		byChat:      make(map[string][]string),
		now:         time.Now,
	}
}

func (r *memoryRepository) InitializeTables() error {
	return nil
}

// stamp returns a strictly increasing timestamp. Caller holds the write lock.
func (r *memoryRepository) stamp() time.Time {
	t := r.now().UTC().Truncate(time.Microsecond)
	if !t.After(r.lastStamp) {
		t = r.lastStamp.Add(time.Microsecond)
	}
	r.lastStamp = t
	return t
}

func (r *memoryRepository) CreateChat(ctx context.Context, chat *models.Chat, members []*models.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[chat.ID]; ok {
		return ErrDuplicateKey
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m.PrincipalID] {
			return ErrDuplicateKey
		}
		seen[m.PrincipalID] = true
	}

	now := r.stamp()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	chat.Active = true
	if !chat.IsGroup {
		chat.DisplayName = ""
	}
	stored := *chat
	r.chats[chat.ID] = &stored

	for _, m := range members {
		row := *m
		row.ChatID = chat.ID
		row.UnreadCount = 0
		r.memberships[membershipKey{chat.ID, m.PrincipalID}] = &row
	}
	return nil
}

func (r *memoryRepository) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chat, ok := r.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *chat
	return &c, nil
}

func (r *memoryRepository) GetChatsByIDs(ctx context.Context, ids []string) ([]*models.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chats []*models.Chat
	for _, id := range ids {
		if chat, ok := r.chats[id]; ok {
			c := *chat
			chats = append(chats, &c)
		}
	}
	return chats, nil
}

func (r *memoryRepository) FindPrivateChats(ctx context.Context, userID1, userID2 string) ([]*models.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chats []*models.Chat
	for id, chat := range r.chats {
		if chat.IsGroup || !chat.Active {
			continue
		}
		a, okA := r.memberships[membershipKey{id, userID1}]
		b, okB := r.memberships[membershipKey{id, userID2}]
		if okA && okB && a.IsActive() && b.IsActive() {
			c := *chat
			chats = append(chats, &c)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats, nil
}

func (r *memoryRepository) GetMembership(ctx context.Context, chatID, principalID string) (*models.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.memberships[membershipKey{chatID, principalID}]
	if !ok {
		return nil, ErrNotFound
	}
	row := *m
	return &row, nil
}

func (r *memoryRepository) GetUserMemberships(ctx context.Context, principalID string) ([]*models.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Membership
	for key, m := range r.memberships {
		if key.principalID == principalID && m.IsActive() {
			row := *m
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (r *memoryRepository) GetActiveMembers(ctx context.Context, chatIDs []string) ([]*models.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(chatIDs))
	for _, id := range chatIDs {
		wanted[id] = true
	}

	var out []*models.Membership
	for key, m := range r.memberships {
		if wanted[key.chatID] && m.IsActive() {
			row := *m
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	return out, nil
}

func (r *memoryRepository) UpdateMembershipState(ctx context.Context, chatID, principalID string, state models.MembershipState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memberships[membershipKey{chatID, principalID}]
	if !ok {
		return ErrNotFound
	}
	m.State = state
	return nil
}

func (r *memoryRepository) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.messages[msg.ID]; ok {
		*msg = *existing
		return false, nil
	}
	chat, ok := r.chats[msg.ChatID]
	if !ok {
		return false, ErrNotFound
	}

	msg.CreatedAt = r.stamp()
	msg.Read = false
	msg.Deleted = false
	stored := *msg
	r.messages[msg.ID] = &stored
	r.byChat[msg.ChatID] = append(r.byChat[msg.ChatID], msg.ID)
	chat.UpdatedAt = msg.CreatedAt

	for key, m := range r.memberships {
		if key.chatID == msg.ChatID && key.principalID != msg.SenderID && m.IsActive() {
			m.UnreadCount++
		}
	}
	return true, nil
}

func (r *memoryRepository) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := *msg
	return &m, nil
}

// visible returns the chat's non-deleted messages ordered by (created_at, id).
// Caller holds a read lock.
func (r *memoryRepository) visible(chatID string) []*models.Message {
	var out []*models.Message
	for _, id := range r.byChat[chatID] {
		if msg := r.messages[id]; !msg.Deleted {
			m := *msg
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memoryRepository) GetChatMessages(ctx context.Context, chatID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := r.visible(chatID)
	if beforeMessageID != "" {
		cursor, ok := r.messages[beforeMessageID]
		if !ok {
			return nil, nil
		}
		// Client ids need not follow storage order, so page on (created_at, id).
		messages = lo.Filter(messages, func(m *models.Message, _ int) bool {
			if !m.CreatedAt.Equal(cursor.CreatedAt) {
				return m.CreatedAt.Before(cursor.CreatedAt)
			}
			return m.ID < cursor.ID
		})
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *memoryRepository) GetLastMessages(ctx context.Context, chatIDs []string) (map[string]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	last := make(map[string]*models.Message, len(chatIDs))
	for _, id := range chatIDs {
		if messages := r.visible(id); len(messages) > 0 {
			last[id] = messages[len(messages)-1]
		}
	}
	return last, nil
}

func (r *memoryRepository) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, id := range r.byChat[chatID] {
		msg := r.messages[id]
		if msg.SenderID != userID && !msg.Read {
			msg.Read = true
			count++
		}
	}
	if m, ok := r.memberships[membershipKey{chatID, userID}]; ok {
		m.UnreadCount = 0
	}
	return count, nil
}

func (r *memoryRepository) SoftDeleteMessage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Deleted = true
	return nil
}
