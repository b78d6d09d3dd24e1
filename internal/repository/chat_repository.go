package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"learnhub/messaging-service/internal/models"

	"github.com/lib/pq"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

type ChatRepository interface {
	CreateChat(ctx context.Context, chat *models.Chat, members []*models.Membership) error
	GetChatByID(ctx context.Context, id string) (*models.Chat, error)
	GetChatsByIDs(ctx context.Context, ids []string) ([]*models.Chat, error)
	FindPrivateChats(ctx context.Context, userID1, userID2 string) ([]*models.Chat, error)

	GetMembership(ctx context.Context, chatID, principalID string) (*models.Membership, error)
	GetUserMemberships(ctx context.Context, principalID string) ([]*models.Membership, error)
	GetActiveMembers(ctx context.Context, chatIDs []string) ([]*models.Membership, error)
	UpdateMembershipState(ctx context.Context, chatID, principalID string, state models.MembershipState) error

	CreateMessage(ctx context.Context, msg *models.Message) (bool, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	GetChatMessages(ctx context.Context, chatID string, limit int, beforeMessageID string) ([]*models.Message, error)
	GetLastMessages(ctx context.Context, chatIDs []string) (map[string]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error)
	SoftDeleteMessage(ctx context.Context, id string) error

	InitializeTables() error
}

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func (r *chatRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS chats (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		is_group BOOLEAN NOT NULL DEFAULT FALSE,
		display_name TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS memberships (
		chat_id UUID NOT NULL REFERENCES chats(id),
		principal_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		state TEXT NOT NULL DEFAULT 'active',
		unread_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chat_id, principal_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id UUID NOT NULL REFERENCES chats(id),
		sender_id TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'text',
		media_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		read BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_principal ON memberships(principal_id, state);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at DESC, id DESC);
	`

	_, err := r.db.Exec(query)
	return err
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}

const chatColumns = `id, is_group, COALESCE(display_name, ''), created_by, created_at, updated_at, active`

func scanChat(row interface{ Scan(...any) error }) (*models.Chat, error) {
	var chat models.Chat
	err := row.Scan(
		&chat.ID, &chat.IsGroup, &chat.DisplayName, &chat.CreatedBy, &chat.CreatedAt, &chat.UpdatedAt, &chat.Active,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat, members []*models.Membership) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var displayName sql.NullString
	if chat.IsGroup {
		displayName = sql.NullString{String: chat.DisplayName, Valid: true}
	}

	query := `
	INSERT INTO chats (id, is_group, display_name, created_by, active)
	VALUES ($1, $2, $3, $4, TRUE)
	RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		chat.ID, chat.IsGroup, displayName, chat.CreatedBy,
	).Scan(&chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return translateError(err)
	}
	chat.Active = true

	memberQuery := `
	INSERT INTO memberships (chat_id, principal_id, role, state, unread_count)
	VALUES ($1, $2, $3, $4, 0)
	`
	for _, m := range members {
		if _, err := tx.ExecContext(ctx, memberQuery, chat.ID, m.PrincipalID, m.Role, m.State); err != nil {
			return fmt.Errorf("insert membership %s: %w", m.PrincipalID, translateError(err))
		}
	}

	return tx.Commit()
}

func (r *chatRepository) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return chat, nil
}

func (r *chatRepository) GetChatsByIDs(ctx context.Context, ids []string) ([]*models.Chat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ANY($1::uuid[])`
	return r.queryChats(ctx, query, pq.Array(ids))
}

func (r *chatRepository) FindPrivateChats(ctx context.Context, userID1, userID2 string) ([]*models.Chat, error) {
	query := `
	SELECT c.id, c.is_group, COALESCE(c.display_name, ''), c.created_by, c.created_at, c.updated_at, c.active
	FROM chats c
	JOIN memberships ma ON ma.chat_id = c.id AND ma.principal_id = $1 AND ma.state = 'active'
	JOIN memberships mb ON mb.chat_id = c.id AND mb.principal_id = $2 AND mb.state = 'active'
	WHERE c.is_group = FALSE AND c.active = TRUE
	ORDER BY c.updated_at DESC
	`
	return r.queryChats(ctx, query, userID1, userID2)
}

func (r *chatRepository) queryChats(ctx context.Context, query string, args ...any) ([]*models.Chat, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (r *chatRepository) GetMembership(ctx context.Context, chatID, principalID string) (*models.Membership, error) {
	query := `
	SELECT chat_id, principal_id, role, state, unread_count
	FROM memberships
	WHERE chat_id = $1 AND principal_id = $2
	`

	var m models.Membership
	err := r.db.QueryRowContext(ctx, query, chatID, principalID).Scan(
		&m.ChatID, &m.PrincipalID, &m.Role, &m.State, &m.UnreadCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *chatRepository) GetUserMemberships(ctx context.Context, principalID string) ([]*models.Membership, error) {
	query := `
	SELECT chat_id, principal_id, role, state, unread_count
	FROM memberships
	WHERE principal_id = $1 AND state = 'active'
	`
	return r.queryMemberships(ctx, query, principalID)
}

func (r *chatRepository) GetActiveMembers(ctx context.Context, chatIDs []string) ([]*models.Membership, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}
	query := `
	SELECT chat_id, principal_id, role, state, unread_count
	FROM memberships
	WHERE chat_id = ANY($1::uuid[]) AND state = 'active'
	ORDER BY chat_id, principal_id
	`
	return r.queryMemberships(ctx, query, pq.Array(chatIDs))
}

func (r *chatRepository) queryMemberships(ctx context.Context, query string, args ...any) ([]*models.Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ChatID, &m.PrincipalID, &m.Role, &m.State, &m.UnreadCount); err != nil {
			return nil, err
		}
		memberships = append(memberships, &m)
	}
	return memberships, rows.Err()
}

func (r *chatRepository) UpdateMembershipState(ctx context.Context, chatID, principalID string, state models.MembershipState) error {
	query := `UPDATE memberships SET state = $3 WHERE chat_id = $1 AND principal_id = $2`

	result, err := r.db.ExecContext(ctx, query, chatID, principalID, state)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = `id, chat_id, sender_id, body, kind, COALESCE(media_url, ''), created_at, read, deleted`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Body, &msg.Kind, &msg.MediaURL, &msg.CreatedAt, &msg.Read, &msg.Deleted,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage inserts msg and reports whether a new row was written. When a
// row with the same id already exists, msg is overwritten with the stored row.
func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var mediaURL sql.NullString
	if msg.MediaURL != "" {
		mediaURL = sql.NullString{String: msg.MediaURL, Valid: true}
	}

	query := `
	INSERT INTO messages (id, chat_id, sender_id, body, kind, media_url)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
	RETURNING created_at
	`
	err = tx.QueryRowContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.Body, msg.Kind, mediaURL,
	).Scan(&msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := scanMessage(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, msg.ID))
		if err != nil {
			return false, err
		}
		*msg = *existing
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, msg.ChatID, msg.CreatedAt); err != nil {
		return false, err
	}

	unreadQuery := `
	UPDATE memberships SET unread_count = unread_count + 1
	WHERE chat_id = $1 AND principal_id <> $2 AND state = 'active'
	`
	if _, err := tx.ExecContext(ctx, unreadQuery, msg.ChatID, msg.SenderID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *chatRepository) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *chatRepository) GetChatMessages(ctx context.Context, chatID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	var query string
	var args []interface{}

	if beforeMessageID != "" {
		query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = $1 AND deleted = FALSE
		  AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
		`
		args = []interface{}{chatID, beforeMessageID, limit}
	} else {
		query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = $1 AND deleted = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		`
		args = []interface{}{chatID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (r *chatRepository) GetLastMessages(ctx context.Context, chatIDs []string) (map[string]*models.Message, error) {
	last := make(map[string]*models.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return last, nil
	}

	query := `
	SELECT DISTINCT ON (chat_id) ` + messageColumns + `
	FROM messages
	WHERE chat_id = ANY($1::uuid[]) AND deleted = FALSE
	ORDER BY chat_id, created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(chatIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		last[msg.ChatID] = msg
	}
	return last, rows.Err()
}

func (r *chatRepository) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `
	UPDATE messages
	SET read = TRUE
	WHERE chat_id = $1 AND sender_id <> $2 AND read = FALSE
	`
	result, err := tx.ExecContext(ctx, query, chatID, userID)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	resetQuery := `UPDATE memberships SET unread_count = 0 WHERE chat_id = $1 AND principal_id = $2`
	if _, err := tx.ExecContext(ctx, resetQuery, chatID, userID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *chatRepository) SoftDeleteMessage(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
