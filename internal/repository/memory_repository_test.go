package repository

import (
	"context"
	"testing"

	"learnhub/messaging-service/internal/models"

	"github.com/stretchr/testify/require"
)

func seedPrivate(t *testing.T, repo ChatRepository, id, a, b string) *models.Chat {
	t.Helper()
	chat := &models.Chat{ID: id, CreatedBy: a}
	require.NoError(t, repo.CreateChat(context.Background(), chat, []*models.Membership{
		{PrincipalID: a, Role: models.RoleAdmin, State: models.MembershipActive},
		{PrincipalID: b, Role: models.RoleMember, State: models.MembershipActive},
	}))
	return chat
}

func send(t *testing.T, repo ChatRepository, id, chatID, sender, body string) *models.Message {
	t.Helper()
	msg := &models.Message{ID: id, ChatID: chatID, SenderID: sender, Body: body, Kind: models.KindText}
	created, err := repo.CreateMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, created)
	return msg
}

func TestMemoryRepository_CreateChatRejectsDuplicates(t *testing.T) {
	repo := NewMemoryRepository()
	seedPrivate(t, repo, "c1", "A", "B")

	err := repo.CreateChat(context.Background(), &models.Chat{ID: "c1"}, nil)
	require.ErrorIs(t, err, ErrDuplicateKey)

	err = repo.CreateChat(context.Background(), &models.Chat{ID: "c2"}, []*models.Membership{
		{PrincipalID: "A"}, {PrincipalID: "A"},
	})
	require.ErrorIs(t, err, ErrDuplicateKey)
	_, err = repo.GetChatByID(context.Background(), "c2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_FindPrivateChatsIgnoresLeftMembers(t *testing.T) {
	req := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()

	seedPrivate(t, repo, "c1", "A", "B")
	seedPrivate(t, repo, "c2", "A", "C")

	chats, err := repo.FindPrivateChats(ctx, "B", "A")
	req.NoError(err)
	req.Len(chats, 1)
	req.Equal("c1", chats[0].ID)

	req.NoError(repo.UpdateMembershipState(ctx, "c1", "B", models.MembershipLeft))
	chats, err = repo.FindPrivateChats(ctx, "A", "B")
	req.NoError(err)
	req.Empty(chats)
}

func TestMemoryRepository_CreateMessageIsIdempotentByID(t *testing.T) {
	req := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()
	seedPrivate(t, repo, "c1", "A", "B")

	first := send(t, repo, "01A", "c1", "A", "Hola")

	retry := &models.Message{ID: "01A", ChatID: "c1", SenderID: "A", Body: "Hola again", Kind: models.KindText}
	created, err := repo.CreateMessage(ctx, retry)
	req.NoError(err)
	req.False(created)
	req.Equal("Hola", retry.Body)
	req.Equal(first.CreatedAt, retry.CreatedAt)

	member, err := repo.GetMembership(ctx, "c1", "B")
	req.NoError(err)
	req.Equal(1, member.UnreadCount)
}

func TestMemoryRepository_TimestampsStrictlyIncrease(t *testing.T) {
	repo := NewMemoryRepository()
	seedPrivate(t, repo, "c1", "A", "B")

	prev := send(t, repo, "01A", "c1", "A", "one")
	for _, id := range []string{"01B", "01C", "01D"} {
		next := send(t, repo, id, "c1", "B", id)
		require.True(t, next.CreatedAt.After(prev.CreatedAt))
		prev = next
	}
}

func TestMemoryRepository_HistoryWindowAndCursor(t *testing.T) {
	req := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()
	seedPrivate(t, repo, "c1", "A", "B")

	for _, id := range []string{"01A", "01B", "01C", "01D", "01E"} {
		send(t, repo, id, "c1", "A", id)
	}
	req.NoError(repo.SoftDeleteMessage(ctx, "01C"))

	latest, err := repo.GetChatMessages(ctx, "c1", 2, "")
	req.NoError(err)
	req.Equal([]string{"01D", "01E"}, messageIDs(latest))

	older, err := repo.GetChatMessages(ctx, "c1", 2, "01D")
	req.NoError(err)
	req.Equal([]string{"01A", "01B"}, messageIDs(older))

	last, err := repo.GetLastMessages(ctx, []string{"c1", "unknown"})
	req.NoError(err)
	req.Len(last, 1)
	req.Equal("01E", last["c1"].ID)
}

func TestMemoryRepository_CursorFollowsStorageOrderNotIDOrder(t *testing.T) {
	req := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()
	seedPrivate(t, repo, "c1", "A", "B")

	// A client id from a clock running ahead sorts after later server ids.
	send(t, repo, "01Z", "c1", "A", "first")
	send(t, repo, "01B", "c1", "B", "second")

	latest, err := repo.GetChatMessages(ctx, "c1", 1, "")
	req.NoError(err)
	req.Equal([]string{"01B"}, messageIDs(latest))

	older, err := repo.GetChatMessages(ctx, "c1", 1, "01B")
	req.NoError(err)
	req.Equal([]string{"01Z"}, messageIDs(older))

	unknown, err := repo.GetChatMessages(ctx, "c1", 10, "missing")
	req.NoError(err)
	req.Empty(unknown)
}

func TestMemoryRepository_MarkReadResetsUnread(t *testing.T) {
	req := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()
	seedPrivate(t, repo, "c1", "A", "B")

	send(t, repo, "01A", "c1", "A", "one")
	send(t, repo, "01B", "c1", "A", "two")
	send(t, repo, "01C", "c1", "B", "mine")

	count, err := repo.MarkMessagesAsRead(ctx, "c1", "B")
	req.NoError(err)
	req.Equal(2, count)

	count, err = repo.MarkMessagesAsRead(ctx, "c1", "B")
	req.NoError(err)
	req.Zero(count)

	member, err := repo.GetMembership(ctx, "c1", "B")
	req.NoError(err)
	req.Zero(member.UnreadCount)
	member, err = repo.GetMembership(ctx, "c1", "A")
	req.NoError(err)
	req.Equal(1, member.UnreadCount)
}

func messageIDs(msgs []*models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
