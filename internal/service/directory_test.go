package service

import (
	"context"
	"testing"

	"learnhub/messaging-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestListChats_EmptyForNewPrincipal(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	chats, err := f.svc.ListChats(context.Background(), "nobody")
	req.NoError(err)
	req.Empty(chats)
}

func TestListChats_NoMessagesYetIsValid(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	chat := f.private(t, "A", "B")

	chats, err := f.svc.ListChats(context.Background(), "A")
	req.NoError(err)
	req.Len(chats, 1)
	req.Equal(chat.ID, chats[0].Chat.ID)
	req.Nil(chats[0].LastMessage)
	req.NotNil(chats[0].OtherParticipant)
	req.Equal("Beto", chats[0].OtherParticipant.DisplayName)
}

func TestListChats_SortedByActivityWithUnreadCounts(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	withB := f.private(t, "A", "B")
	withC := f.private(t, "A", "C")
	group, err := f.svc.CreateChat(ctx, CreateChatRequest{RequesterID: "B", IsGroup: true, DisplayName: "Lab", MemberIDs: []string{"A", "C"}})
	req.NoError(err)

	f.send(t, "B", withB.ID, "first")
	f.send(t, "C", group.ID, "second")
	last := f.send(t, "C", withC.ID, "third")
	f.send(t, "C", withC.ID, "fourth")

	chats, err := f.svc.ListChats(ctx, "A")
	req.NoError(err)
	req.Len(chats, 3)
	req.Equal(withC.ID, chats[0].Chat.ID)
	req.Equal(group.ID, chats[1].Chat.ID)
	req.Equal(withB.ID, chats[2].Chat.ID)

	req.Equal("fourth", chats[0].LastMessage.Body)
	req.NotEqual(last.ID, chats[0].LastMessage.ID)
	req.Equal(2, chats[0].UnreadCount)
	req.Nil(chats[1].OtherParticipant)

	_, err = f.svc.MarkMessagesAsRead(ctx, withC.ID, "A")
	req.NoError(err)
	chats, err = f.svc.ListChats(ctx, "A")
	req.NoError(err)
	req.Zero(chats[0].UnreadCount)
}

func TestListChats_DuplicatePrivateChatsCollapseToMostRecent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	original := f.private(t, "A", "B")
	f.send(t, "A", original.ID, "old conversation")

	// a historical duplicate created behind the service's back
	dup := &models.Chat{ID: uuid.New().String(), CreatedBy: "B"}
	req.NoError(f.repo.CreateChat(ctx, dup, []*models.Membership{
		{PrincipalID: "B", Role: models.RoleAdmin, State: models.MembershipActive},
		{PrincipalID: "A", Role: models.RoleMember, State: models.MembershipActive},
	}))
	f.send(t, "B", dup.ID, "newer conversation")

	chats, err := f.svc.ListChats(ctx, "A")
	req.NoError(err)
	req.Len(chats, 1)
	req.Equal(dup.ID, chats[0].Chat.ID)
	req.Equal("newer conversation", chats[0].LastMessage.Body)

	// chat creation resolves the anomaly the same way
	resolved := f.private(t, "A", "B")
	req.Equal(dup.ID, resolved.ID)

	f.send(t, "A", original.ID, "revived")
	resolved = f.private(t, "B", "A")
	req.Equal(original.ID, resolved.ID)
}

func TestListChats_LeftGroupDisappears(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.svc.CreateChat(ctx, CreateChatRequest{RequesterID: "A", IsGroup: true, DisplayName: "Lab", MemberIDs: []string{"B"}})
	req.NoError(err)
	req.NoError(f.svc.LeaveChat(ctx, "B", group.ID))

	chats, err := f.svc.ListChats(ctx, "B")
	req.NoError(err)
	req.Empty(chats)

	chats, err = f.svc.ListChats(ctx, "A")
	req.NoError(err)
	req.Len(chats, 1)
	req.Equal(models.KindSystem, chats[0].LastMessage.Kind)
}
