package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"learnhub/messaging-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

var (
	chatCols    = []string{"id", "is_group", "display_name", "created_by", "created_at", "updated_at", "active"}
	messageCols = []string{"id", "chat_id", "sender_id", "body", "kind", "media_url", "created_at", "read", "deleted"}
)

const testChatID = "6f1c2d4e-8a7b-4c3d-9e2f-1a2b3c4d5e6f"

func newMock(t *testing.T) (ChatRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewChatRepository(db), mock
}

func TestChatRepository_CreateChatCommitsChatAndMembers(t *testing.T) {
	req := require.New(t)
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats")).
		WithArgs(testChatID, true, "Lab", "A").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memberships")).
		WithArgs(testChatID, "A", models.RoleAdmin, models.MembershipActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memberships")).
		WithArgs(testChatID, "B", models.RoleMember, models.MembershipActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	chat := &models.Chat{ID: testChatID, IsGroup: true, DisplayName: "Lab", CreatedBy: "A"}
	err := repo.CreateChat(context.Background(), chat, []*models.Membership{
		{PrincipalID: "A", Role: models.RoleAdmin, State: models.MembershipActive},
		{PrincipalID: "B", Role: models.RoleMember, State: models.MembershipActive},
	})
	req.NoError(err)
	req.True(chat.Active)
	req.Equal(now, chat.CreatedAt)
}

func TestChatRepository_CreateChatRollsBackOnMemberFailure(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memberships")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "memberships_pkey"})
	mock.ExpectRollback()

	err := repo.CreateChat(context.Background(), &models.Chat{ID: testChatID, CreatedBy: "A"}, []*models.Membership{
		{PrincipalID: "A", Role: models.RoleAdmin, State: models.MembershipActive},
	})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestChatRepository_FindPrivateChats(t *testing.T) {
	req := require.New(t)
	repo, mock := newMock(t)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN memberships mb ON mb.chat_id = c.id AND mb.principal_id = $2")).
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows(chatCols).
			AddRow(testChatID, false, "", "A", older, newer, true).
			AddRow("0b1c2d3e-4f50-6172-8394-a5b6c7d8e9f0", false, "", "B", older, older, true))

	chats, err := repo.FindPrivateChats(context.Background(), "A", "B")
	req.NoError(err)
	req.Len(chats, 2)
	req.Equal(testChatID, chats[0].ID)
	req.False(chats[0].IsGroup)
}

func TestChatRepository_GetChatByIDNotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chats WHERE id = $1")).
		WithArgs(testChatID).
		WillReturnRows(sqlmock.NewRows(chatCols))

	_, err := repo.GetChatByID(context.Background(), testChatID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChatRepository_CreateMessageBumpsChatAndUnread(t *testing.T) {
	req := require.New(t)
	repo, mock := newMock(t)
	stored := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WithArgs("01HZX", testChatID, "A", "Hola", models.KindText, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(stored))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chats SET updated_at = $2 WHERE id = $1")).
		WithArgs(testChatID, stored).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET unread_count = unread_count + 1")).
		WithArgs(testChatID, "A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg := &models.Message{ID: "01HZX", ChatID: testChatID, SenderID: "A", Body: "Hola", Kind: models.KindText}
	created, err := repo.CreateMessage(context.Background(), msg)
	req.NoError(err)
	req.True(created)
	req.Equal(stored, msg.CreatedAt)
}

func TestChatRepository_CreateMessageReturnsStoredRowOnDuplicateID(t *testing.T) {
	req := require.New(t)
	repo, mock := newMock(t)
	stored := time.Now().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id = $1")).
		WithArgs("01HZX").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("01HZX", testChatID, "A", "Hola", "text", "", stored, false, false))
	mock.ExpectRollback()

	msg := &models.Message{ID: "01HZX", ChatID: testChatID, SenderID: "A", Body: "Hola", Kind: models.KindText}
	created, err := repo.CreateMessage(context.Background(), msg)
	req.NoError(err)
	req.False(created)
	req.Equal(stored, msg.CreatedAt)
}

func TestChatRepository_GetChatMessagesReturnsAscending(t *testing.T) {
	req := require.New(t)
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2)")).
		WithArgs(testChatID, "01J000", 2).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("01HZZ", testChatID, "B", "second", "text", "", now, false, false).
			AddRow("01HZY", testChatID, "A", "first", "image", "https://cdn/x.png", now.Add(-time.Second), true, false))

	messages, err := repo.GetChatMessages(context.Background(), testChatID, 2, "01J000")
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal("first", messages[0].Body)
	req.Equal(models.KindImage, messages[0].Kind)
	req.Equal("https://cdn/x.png", messages[0].MediaURL)
	req.Equal("second", messages[1].Body)
}

func TestChatRepository_MarkMessagesAsRead(t *testing.T) {
	req := require.New(t)
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET read = TRUE")).
		WithArgs(testChatID, "B").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("SET unread_count = 0")).
		WithArgs(testChatID, "B").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := repo.MarkMessagesAsRead(context.Background(), testChatID, "B")
	req.NoError(err)
	req.Equal(3, count)
}

func TestChatRepository_SoftDeleteUnknownMessage(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET deleted = TRUE")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.SoftDeleteMessage(context.Background(), "missing"), ErrNotFound)
}

func TestChatRepository_GetLastMessagesEmptyInput(t *testing.T) {
	repo, _ := newMock(t)

	last, err := repo.GetLastMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, last)
}

func TestTranslateError(t *testing.T) {
	require.ErrorIs(t, translateError(&pq.Error{Code: "23505"}), ErrDuplicateKey)

	other := errors.New("connection reset")
	require.Equal(t, other, translateError(other))
}
